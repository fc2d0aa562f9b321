package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID                uuid.UUID `gorm:"primaryKey"                json:"id"`
	Email             string    `gorm:"uniqueIndex;not null"      json:"email"`
	Name              string    `gorm:"not null"                  json:"name"`
	PasswordHash      string    `gorm:"not null"                  json:"-"`
	Role              string    `gorm:"not null;default:user"     json:"role"`
	Active            bool      `gorm:"not null;default:true"     json:"active"`
	EmailVerified     bool      `gorm:"not null;default:false"    json:"is_email_verified"`
	PasswordChangedAt time.Time `json:"-"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"-"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Token is one ledger row. Access tokens are never persisted here; refresh,
// reset and verify tokens are stored as sha256 fingerprints so a leaked table
// does not leak usable credentials.
type Token struct {
	ID          uuid.UUID `gorm:"primaryKey"            json:"id"`
	Fingerprint string    `gorm:"uniqueIndex;not null"  json:"-"`
	UserID      uuid.UUID `gorm:"index;not null"        json:"user_id"`
	Kind        string    `gorm:"index;not null"        json:"kind"`
	JTI         string    `gorm:"not null"              json:"jti"`
	ExpiresAt   int64     `gorm:"not null"              json:"expires_at"`
	Revoked     bool      `gorm:"not null;default:false" json:"revoked"`
	CreatedAt   time.Time `json:"created_at"`
}

func (t *Token) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

type Product struct {
	ID          uuid.UUID `gorm:"primaryKey"  json:"id"`
	Name        string    `gorm:"not null"    json:"name"`
	Description string    `gorm:"not null"    json:"description"`
	Price       int64     `gorm:"not null"    json:"price"`
	Count       uint      `json:"count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"-"`
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

const (
	OrderStatusNew       = "new"
	OrderStatusPaid      = "paid"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

type Order struct {
	ID        uuid.UUID          `gorm:"primaryKey"     json:"id"`
	UserID    uuid.UUID          `gorm:"index;not null" json:"user_id"`
	Status    string             `gorm:"not null"       json:"status"`
	Total     int64              `gorm:"not null"       json:"total"`
	Items     []OrderItem        `gorm:"constraint:OnDelete:CASCADE" json:"items"`
	History   []OrderStatusEvent `gorm:"constraint:OnDelete:CASCADE" json:"history,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"-"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

type OrderItem struct {
	ID        uuid.UUID `gorm:"primaryKey"     json:"id"`
	OrderID   uuid.UUID `gorm:"index;not null" json:"order_id"`
	ProductID uuid.UUID `gorm:"not null"       json:"product_id"`
	Quantity  uint      `gorm:"default:1;check:quantity>0" json:"quantity"`
	UnitPrice int64     `gorm:"not null"       json:"unit_price"`
	LineTotal int64     `gorm:"not null"       json:"line_total"`
}

func (i *OrderItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

type OrderStatusEvent struct {
	ID      uuid.UUID `gorm:"primaryKey"     json:"id"`
	OrderID uuid.UUID `gorm:"index;not null" json:"order_id"`
	Status  string    `gorm:"not null"       json:"status"`
	At      time.Time `gorm:"not null"       json:"at"`
}

func (e *OrderStatusEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// All returns every model registered for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&Token{},
		&Product{},
		&Order{},
		&OrderItem{},
		&OrderStatusEvent{},
	}
}
