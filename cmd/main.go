package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"wager_service/internal/bet"
	"wager_service/internal/clash"
	"wager_service/internal/config"
	"wager_service/internal/debt"
	"wager_service/internal/ledger"
	"wager_service/internal/media"
	"wager_service/internal/notify"
	"wager_service/internal/steal"
)

func main() {

	if err := godotenv.Load(); err != nil {
		fmt.Println("Error loading .env file", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalln(err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DBConnStr), &gorm.Config{})
	if err != nil {
		log.Fatalln(err)
	}
	err = db.AutoMigrate(
		&ledger.Wallet{}, &ledger.Transaction{},
		&bet.Bet{}, &bet.Participant{},
		&clash.Clash{}, &clash.Proof{},
		&steal.StealAttempt{},
		&debt.Debt{},
	)
	if err != nil {
		log.Fatalln(err)
	}

	var events notify.Publisher
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		events = notify.NewRedisPublisher(client, cfg.EventChannel)
	} else {
		events = notify.NewHub()
	}

	signer, err := media.NewSigner(
		[]byte(cfg.ProofSigningKey),
		cfg.ProofViewBaseURL,
		time.Duration(cfg.ProofURLTTLMinutes)*time.Minute,
	)
	if err != nil {
		log.Fatalln(err)
	}

	walletRepo := ledger.NewWalletRepositoryImpl(db)
	ledgerService := ledger.NewService(walletRepo,
		decimal.NewFromInt(cfg.AllowanceAmount),
		decimal.NewFromInt(cfg.OpeningBalance))
	betService := bet.NewService(bet.NewRepositoryImpl(db), walletRepo, events)
	clashService := clash.NewService(clash.NewRepositoryImpl(db), signer, events)
	stealService := steal.NewService(steal.NewRepositoryImpl(db), walletRepo, events)
	debtService := debt.NewService(debt.NewRepositoryImpl(db), walletRepo, cfg.BorrowTrustMin)

	r := gin.Default()

	r.POST("/wallets", func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		w, err := ledgerService.CreateWallet(c.Request.Context(), req.UserID)
		if err != nil {
			if err == ledger.ErrWalletExists {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, w)
	})

	r.GET("/wallets/:user_id", func(c *gin.Context) {
		w, err := ledgerService.GetWallet(c.Request.Context(), c.Param("user_id"))
		if err != nil {
			if err == ledger.ErrWalletNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, w)
	})

	r.POST("/wallets/:user_id/login", func(c *gin.Context) {
		if err := ledgerService.RecordLogin(c.Request.Context(), c.Param("user_id")); err != nil {
			if err == ledger.ErrWalletNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	r.POST("/wallets/:user_id/lock-stake", func(c *gin.Context) {
		var req struct {
			Stake decimal.Decimal `json:"stake" binding:"required"`
			BetID string          `json:"bet_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tx, err := ledgerService.LockStakeForSwipe(c.Request.Context(), c.Param("user_id"), req.Stake, req.BetID)
		if err != nil {
			switch err {
			case ledger.ErrWalletNotFound:
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case ledger.ErrInsufficientFunds, ledger.ErrNonPositiveAmount:
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, tx)
	})

	r.POST("/wallets/:user_id/allowance", func(c *gin.Context) {
		result, err := ledgerService.ClaimAllowance(c.Request.Context(), c.Param("user_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	r.POST("/bets/friend", func(c *gin.Context) {
		var req struct {
			CreatorID string          `json:"creator_id" binding:"required"`
			FriendID  string          `json:"friend_id" binding:"required"`
			Text      string          `json:"text" binding:"required"`
			Category  string          `json:"category"`
			BaseStake decimal.Decimal `json:"base_stake"`
			ExpiresAt time.Time       `json:"expires_at" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		b, err := betService.CreateBetForFriend(c.Request.Context(), req.CreatorID, req.FriendID, req.Text, req.Category, req.BaseStake, req.ExpiresAt)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, b)
	})

	r.POST("/bets/group", func(c *gin.Context) {
		var req struct {
			CreatorID string          `json:"creator_id" binding:"required"`
			GroupID   string          `json:"group_id" binding:"required"`
			Text      string          `json:"text" binding:"required"`
			Category  string          `json:"category"`
			BaseStake decimal.Decimal `json:"base_stake"`
			ExpiresAt time.Time       `json:"expires_at" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		b, err := betService.CreateBetForGroup(c.Request.Context(), req.CreatorID, req.GroupID, req.Text, req.Category, req.BaseStake, req.ExpiresAt)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, b)
	})

	r.POST("/bets/all-friends", func(c *gin.Context) {
		var req struct {
			CreatorID string          `json:"creator_id" binding:"required"`
			FriendIDs []string        `json:"friend_ids" binding:"required"`
			Text      string          `json:"text" binding:"required"`
			Category  string          `json:"category"`
			BaseStake decimal.Decimal `json:"base_stake"`
			ExpiresAt time.Time       `json:"expires_at" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		bets, err := betService.CreateBetForAllFriends(c.Request.Context(), req.CreatorID, req.FriendIDs, req.Text, req.Category, req.BaseStake, req.ExpiresAt)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, bets)
	})

	r.POST("/bets/:bet_id/swipe", func(c *gin.Context) {
		var req struct {
			UserID      string          `json:"user_id" binding:"required"`
			Vote        string          `json:"vote" binding:"required"`
			StakeAmount decimal.Decimal `json:"stake_amount"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := betService.RecordSwipe(c.Request.Context(), c.Param("bet_id"), req.UserID, req.Vote, req.StakeAmount)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	r.POST("/bets/:bet_id/cancel", func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := betService.CancelBet(c.Request.Context(), c.Param("bet_id"), req.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	r.POST("/clashes/:clash_id/proof", func(c *gin.Context) {
		var req struct {
			UploaderID        string `json:"uploader_id" binding:"required"`
			StoragePath       string `json:"storage_path" binding:"required"`
			MediaType         string `json:"media_type"`
			ViewDurationHours int    `json:"view_duration_hours"`
			IsViewOnce        bool   `json:"is_view_once"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := clashService.SubmitProof(c.Request.Context(), c.Param("clash_id"), req.UploaderID, req.StoragePath, req.MediaType, req.ViewDurationHours, req.IsViewOnce)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	r.POST("/clashes/:clash_id/view", func(c *gin.Context) {
		var req struct {
			ViewerID string `json:"viewer_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := clashService.ViewProof(c.Request.Context(), c.Param("clash_id"), req.ViewerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	r.POST("/clashes/:clash_id/resolve", func(c *gin.Context) {
		var req struct {
			ReviewerID    string `json:"reviewer_id" binding:"required"`
			ProofAccepted bool   `json:"proof_accepted"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := clashService.ResolveClash(c.Request.Context(), c.Param("clash_id"), req.ProofAccepted, req.ReviewerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	r.POST("/clashes/:clash_id/dispute", func(c *gin.Context) {
		var req struct {
			DisputerID string `json:"disputer_id" binding:"required"`
			Reason     string `json:"reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := clashService.DisputeClash(c.Request.Context(), c.Param("clash_id"), req.DisputerID, req.Reason)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	r.GET("/media/view", func(c *gin.Context) {
		path, err := signer.VerifyToken(c.Query("token"))
		if err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		// The blob gateway would stream the object; the core only
		// dereferences the path.
		c.JSON(http.StatusOK, gin.H{"storage_path": path})
	})

	r.POST("/steals", func(c *gin.Context) {
		var req struct {
			ThiefID  string `json:"thief_id" binding:"required"`
			TargetID string `json:"target_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := stealService.InitiateSteal(c.Request.Context(), req.ThiefID, req.TargetID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	r.POST("/steals/:steal_id/defend", func(c *gin.Context) {
		var req struct {
			DefenderID string `json:"defender_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := stealService.DefendSteal(c.Request.Context(), c.Param("steal_id"), req.DefenderID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	r.POST("/steals/:steal_id/complete", func(c *gin.Context) {
		var req struct {
			MinigameSucceeded bool `json:"minigame_succeeded"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := stealService.CompleteSteal(c.Request.Context(), c.Param("steal_id"), req.MinigameSucceeded)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	r.GET("/debts/can-borrow", func(c *gin.Context) {
		amount, err := decimal.NewFromString(c.DefaultQuery("amount", "0"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := debtService.CanBorrow(c.Request.Context(), c.Query("user_id"), amount)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	r.POST("/debts", func(c *gin.Context) {
		var req struct {
			UserID string          `json:"user_id" binding:"required"`
			Amount decimal.Decimal `json:"amount" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := debtService.BorrowCoins(c.Request.Context(), req.UserID, req.Amount)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	r.POST("/debts/:debt_id/accrue", func(c *gin.Context) {
		result, err := debtService.AccrueInterestOnDebt(c.Request.Context(), c.Param("debt_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	r.POST("/debts/:debt_id/repay", func(c *gin.Context) {
		var req struct {
			UserID string          `json:"user_id" binding:"required"`
			Amount decimal.Decimal `json:"amount" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := debtService.RepayDebt(c.Request.Context(), req.UserID, c.Param("debt_id"), req.Amount)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	r.GET("/debts/total/:user_id", func(c *gin.Context) {
		total, err := debtService.GetTotalDebt(c.Request.Context(), c.Param("user_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"total_debt": total})
	})

	fmt.Println("Server started on", cfg.ListenAddr)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatal(err)
	}
}
