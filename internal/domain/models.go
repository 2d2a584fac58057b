package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	UnitInStock  = "in_stock"
	UnitReserved = "reserved"
	UnitSold     = "sold"
)

const (
	BackorderOpen      = "open"
	BackorderOrdered   = "ordered"
	BackorderPartial   = "partial"
	BackorderFulfilled = "fulfilled"
	BackorderNotified  = "notified"
	BackorderClosed    = "closed"
)

const (
	OrderOpen      = "open"
	OrderCompleted = "completed"
)

type Product struct {
	ID           string          `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Brand        string          `json:"brand"`
	SpeakerSize  string          `json:"speaker_size,omitempty"`
	SpeakerSizes []string        `json:"speaker_sizes,omitempty"`
	PartNumber   string          `json:"part_number,omitempty"`
	PriceCents   int64           `json:"price_cents"`
	AvgCost      decimal.Decimal `json:"avg_cost"`
	AvgCostQty   int64           `json:"avg_cost_qty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Sizes returns every declared size of the product, single field first.
func (p Product) Sizes() []string {
	sizes := make([]string, 0, len(p.SpeakerSizes)+1)
	if p.SpeakerSize != "" {
		sizes = append(sizes, p.SpeakerSize)
	}
	sizes = append(sizes, p.SpeakerSizes...)
	return sizes
}

type ProductCreateRequest struct {
	SKU          string   `json:"sku" validate:"required,max=64"`
	Name         string   `json:"name" validate:"required,max=200"`
	Category     string   `json:"category" validate:"required,max=64"`
	Brand        string   `json:"brand" validate:"max=64"`
	SpeakerSize  string   `json:"speaker_size,omitempty" validate:"max=32"`
	SpeakerSizes []string `json:"speaker_sizes,omitempty" validate:"max=8,dive,max=32"`
	PartNumber   string   `json:"part_number,omitempty" validate:"max=64"`
	PriceCents   int64    `json:"price_cents" validate:"gte=0"`
}

type ProductUnit struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	Cost        decimal.Decimal `json:"cost"`
	Status      string          `json:"status"`
	ReceivedAt  time.Time       `json:"received_at"`
	Seq         int64           `json:"seq"`
	Serial      string          `json:"serial,omitempty"`
	Spot        string          `json:"spot,omitempty"`
	OrderID     string          `json:"order_id,omitempty"`
	OrderItemID string          `json:"order_item_id,omitempty"`
	BackorderID string          `json:"backorder_id,omitempty"`
	SoldAt      *time.Time      `json:"sold_at,omitempty"`
}

type Backorder struct {
	ID           string    `json:"id"`
	ProductID    string    `json:"product_id"`
	OrderID      string    `json:"order_id"`
	OrderItemID  string    `json:"order_item_id"`
	RequestedQty int       `json:"requested_qty"`
	FulfilledQty int       `json:"fulfilled_qty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	Seq          int64     `json:"seq"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (b Backorder) Remaining() int {
	if b.RequestedQty <= b.FulfilledQty {
		return 0
	}
	return b.RequestedQty - b.FulfilledQty
}

// Eligible reports whether new stock may still be applied to the backorder.
func (b Backorder) Eligible() bool {
	switch b.Status {
	case BackorderOpen, BackorderOrdered, BackorderPartial:
		return b.Remaining() > 0
	}
	return false
}

type BackorderFilter struct {
	ProductID string
	Status    string
	Limit     int
}

type BackorderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=open ordered partial fulfilled notified closed"`
}

type Order struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	CreatedBy   string      `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Items       []OrderItem `json:"items,omitempty"`
}

type OrderItem struct {
	ID              string    `json:"id"`
	OrderID         string    `json:"order_id"`
	ProductID       string    `json:"product_id"`
	QtyOrdered      int       `json:"qty_ordered"`
	FulfilledQty    int       `json:"fulfilled_qty"`
	BackorderedQty  int       `json:"backordered_qty"`
	AssignedUnitIDs []string  `json:"assigned_unit_ids"`
	BackorderID     string    `json:"backorder_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type CheckoutItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Qty       int    `json:"qty" validate:"gte=1,lte=500"`
}

type CheckoutRequest struct {
	OrderID    string         `json:"order_id,omitempty"`
	Items      []CheckoutItem `json:"items" validate:"required,min=1,max=100,dive"`
	ManagerPIN string         `json:"manager_pin,omitempty"`
	// ConfirmBackorder is set by the API layer after the manager PIN checks out.
	ConfirmBackorder bool `json:"-"`
}

type CheckoutResponse struct {
	OrderID string      `json:"order_id"`
	Items   []OrderItem `json:"items"`
}

type CheckInRequest struct {
	ProductID string            `json:"product_id" validate:"required"`
	Qty       int               `json:"qty" validate:"gte=1,lte=1000"`
	UnitCosts []decimal.Decimal `json:"unit_costs" validate:"required,min=1"`
	Serials   []string          `json:"serials,omitempty"`
	Spot      string            `json:"spot,omitempty" validate:"max=64"`
}

type BackorderAction struct {
	BackorderID string `json:"backorder_id"`
	OrderID     string `json:"order_id"`
	OrderItemID string `json:"order_item_id"`
	Applied     int    `json:"applied"`
	Status      string `json:"status"`
}

type CheckInResult struct {
	ProductID           string            `json:"product_id"`
	UnitIDs             []string          `json:"unit_ids"`
	AppliedToBackorders int               `json:"applied_to_backorders"`
	AddedToStock        int               `json:"added_to_stock"`
	BackorderActions    []BackorderAction `json:"backorder_actions"`
	AvgCost             decimal.Decimal   `json:"avg_cost"`
}

type Location struct {
	Role  string   `json:"role"`
	Sizes []string `json:"sizes"`
}

type VehicleFitmentRecord struct {
	YearStart int        `json:"yearStart"`
	YearEnd   int        `json:"yearEnd"`
	Make      string     `json:"make"`
	Model     string     `json:"model"`
	Trim      string     `json:"trim,omitempty"`
	Locations []Location `json:"locations"`
}

type Vehicle struct {
	Year  int    `json:"year" validate:"gte=1900,lte=2100"`
	Make  string `json:"make" validate:"required,max=64"`
	Model string `json:"model" validate:"required,max=64"`
	Trim  string `json:"trim,omitempty" validate:"max=64"`
}

type DashKits struct {
	SingleDin []string `json:"singleDin"`
	DoubleDin []string `json:"doubleDin"`
}

type HarnessSet struct {
	IntoCar   []string `json:"intoCar"`
	IntoRadio []string `json:"intoRadio"`
	Bypass    []string `json:"bypass"`
}

type Harnesses struct {
	Amplified    HarnessSet `json:"amplified"`
	NonAmplified HarnessSet `json:"nonAmplified"`
}

type Antennas struct {
	Adapter []string `json:"adapter"`
	Power   []string `json:"power"`
	Fixed   []string `json:"fixed"`
	Antenna []string `json:"antenna"`
}

type AccessoryParts struct {
	DashKits  DashKits  `json:"dashKits"`
	Harnesses Harnesses `json:"harnesses"`
	Antennas  Antennas  `json:"antennas"`
	Maestro   []string  `json:"maestro"`
}

type VehicleAccessoryRecord struct {
	AccessoryParts
	Scosche *AccessoryParts `json:"scosche,omitempty"`
}

type DinSizes struct {
	SingleDin bool `json:"singleDin"`
	DoubleDin bool `json:"doubleDin"`
}

type FitmentSnapshot struct {
	Fitments    []VehicleFitmentRecord            `json:"fitments"`
	Accessories map[string]VehicleAccessoryRecord `json:"accessories"`
}

type VehicleFitmentResponse struct {
	Vehicle     Vehicle                 `json:"vehicle"`
	Fitment     *VehicleFitmentRecord   `json:"fitment"`
	Din         DinSizes                `json:"din"`
	Accessories *VehicleAccessoryRecord `json:"accessories"`
	Found       bool                    `json:"found"`
}

type RecommendationFilter struct {
	Category string `json:"category,omitempty"`
	Brand    string `json:"brand,omitempty"`
	Location string `json:"location,omitempty"`
	Din      string `json:"din,omitempty" validate:"omitempty,oneof=single double"`
}

type RecommendationRequest struct {
	Vehicle Vehicle              `json:"vehicle"`
	Filter  RecommendationFilter `json:"filter"`
}

type RecommendedProduct struct {
	Product
	InStock int `json:"in_stock"`
}

type LocationGroup struct {
	Role     string               `json:"role"`
	Sizes    []string             `json:"sizes"`
	Products []RecommendedProduct `json:"products"`
}

type RecommendationResponse struct {
	Vehicle         Vehicle               `json:"vehicle"`
	Fitment         *VehicleFitmentRecord `json:"fitment"`
	Din             DinSizes              `json:"din"`
	Speakers        []LocationGroup       `json:"speakers"`
	DashKits        []RecommendedProduct  `json:"dash_kits"`
	Harnesses       []RecommendedProduct  `json:"harnesses"`
	Antennas        []RecommendedProduct  `json:"antennas"`
	Interfaces      []RecommendedProduct  `json:"interfaces"`
	Radios          []RecommendedProduct  `json:"radios"`
	NoMatches       bool                  `json:"no_matches"`
	SnapshotVersion string                `json:"snapshot_version"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
