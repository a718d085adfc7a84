package clash

import (
	"time"

	"github.com/shopspring/decimal"
)

// Clash is the 1v1 wager formed when two bet participants vote
// oppositely. bet_id is unique: at most one clash per bet, enforced by
// the index rather than by convention.
type Clash struct {
	ClashID       string          `gorm:"column:clash_id;primaryKey;type:uuid;default:uuid_generate_v4()"`
	BetID         string          `gorm:"column:bet_id;type:uuid;not null;uniqueIndex"`
	User1ID       string          `gorm:"column:user1_id;type:uuid;not null"`
	User2ID       string          `gorm:"column:user2_id;type:uuid;not null"`
	ProverID      string          `gorm:"column:prover_id;type:uuid;not null"` // the participant who voted yes
	TotalPot      decimal.Decimal `gorm:"column:total_pot;type:numeric(20,2);not null"`
	Status        string          `gorm:"column:status;type:varchar(20);not null;default:'pending_proof'"`
	ProofDeadline time.Time       `gorm:"column:proof_deadline;not null"`
	ProofExpired  bool            `gorm:"column:proof_expired;not null;default:false"`
	DisputeReason string          `gorm:"column:dispute_reason;type:text"`
	WinnerID      *string         `gorm:"column:winner_id;type:uuid"`
	CreatedAt     time.Time       `gorm:"column:created_at;not null;default:now()"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;not null;default:now()"`
}

type Proof struct {
	ProofID           string     `gorm:"column:proof_id;primaryKey;type:uuid;default:uuid_generate_v4()"`
	ClashID           string     `gorm:"column:clash_id;type:uuid;not null;uniqueIndex"`
	UploaderID        string     `gorm:"column:uploader_id;type:uuid;not null"`
	StoragePath       string     `gorm:"column:storage_path;type:varchar(512);not null"` // opaque blob store reference
	MediaType         string     `gorm:"column:media_type;type:varchar(20);not null"`
	ViewCount         int        `gorm:"column:view_count;not null;default:0"`
	MaxViews          int        `gorm:"column:max_views;not null"`
	ViewDurationHours int        `gorm:"column:view_duration_hours;not null"`
	IsDestroyed       bool       `gorm:"column:is_destroyed;not null;default:false"`
	SubmittedAt       time.Time  `gorm:"column:submitted_at;not null;default:now()"`
	CreatedAt         time.Time  `gorm:"column:created_at;not null;default:now()"`
}

const (
	StatusPendingProof   = "pending_proof"
	StatusProofSubmitted = "proof_submitted"
	StatusDisputed       = "disputed"
	StatusResolved       = "resolved"
)

// IsParticipant reports whether userID is one of the clash's two sides.
func (c *Clash) IsParticipant(userID string) bool {
	return userID == c.User1ID || userID == c.User2ID
}

// Opponent returns the other side of the clash.
func (c *Clash) Opponent(userID string) string {
	if userID == c.User1ID {
		return c.User2ID
	}
	return c.User1ID
}

type SubmitProofResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	ProofID string `json:"proof_id,omitempty"`
	Status  string `json:"status,omitempty"`
}

type ViewProofResult struct {
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
	CanView        bool   `json:"can_view"`
	ViewURL        string `json:"view_url,omitempty"`
	ViewsRemaining int    `json:"views_remaining"`
	ProofExpired   bool   `json:"proof_expired"`
}

type ResolveResult struct {
	Success          bool            `json:"success"`
	Error            string          `json:"error,omitempty"`
	WinnerID         string          `json:"winner_id,omitempty"`
	PotAwarded       decimal.Decimal `json:"pot_awarded"`
	WinnerNewBalance decimal.Decimal `json:"winner_new_balance"`
}

type DisputeResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Status  string `json:"status,omitempty"`
}
