package domain

import "time"

type ItemStatus string

const (
	ItemActive   ItemStatus = "active"
	ItemInactive ItemStatus = "inactive"
	ItemArchived ItemStatus = "archived"
)

// Item is the inventory record as the backend returns it. A station only ever
// holds it as a read-only snapshot taken at lookup time.
type Item struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	CurrentQuantity float64    `json:"current_quantity"`
	UnitID          int64      `json:"unit_id"`
	UnitName        string     `json:"unit_name"`
	Status          ItemStatus `json:"status,omitempty"`
	Barcode         *string    `json:"barcode,omitempty"`
}

type Provider struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Destination struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Unit struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AdjustmentType is the wire name of a stock change direction.
type AdjustmentType string

const (
	Addition AdjustmentType = "addition"
	Removal  AdjustmentType = "removal"
)

// AdjustmentRequest is the body of POST /items/{id}/adjust. PersonName is
// sent as null when blank; the direction-specific fields are omitted when
// they do not apply.
type AdjustmentRequest struct {
	ChangeAmount   float64        `json:"change_amount"`
	AdjustmentType AdjustmentType `json:"adjustment_type"`
	PersonName     *string        `json:"person_name"`
	ProviderID     *int64         `json:"provider_id,omitempty"`
	Cost           *float64       `json:"cost,omitempty"`
	DestinationID  *int64         `json:"destination_id,omitempty"`
}

type MovementLog struct {
	ID                int64
	ItemID            int64
	ItemName          string
	ActionType        string
	QuantityChanged   float64
	ResultingQuantity float64
	ProviderID        *int64
	CostPerItem       *float64
	DestinationID     *int64
	PersonName        *string
	Timestamp         time.Time
}
