package domain

import (
	"fmt"
	"strings"
	"time"
)

// StatusCategory is one of the independent status dimensions of a project.
type StatusCategory string

const (
	CategoryOrder    StatusCategory = "ORDER"
	CategoryPickup   StatusCategory = "PICKUP"
	CategoryDelivery StatusCategory = "DELIVERY"
	CategoryCheck    StatusCategory = "CHECK"
)

// Categories returns every category in display order.
func Categories() []StatusCategory {
	return []StatusCategory{CategoryOrder, CategoryPickup, CategoryDelivery, CategoryCheck}
}

// Valid reports whether c is a known category.
func (c StatusCategory) Valid() bool {
	switch c {
	case CategoryOrder, CategoryPickup, CategoryDelivery, CategoryCheck:
		return true
	}
	return false
}

// ParseCategory parses a category name case-insensitively.
func ParseCategory(s string) (StatusCategory, error) {
	c := StatusCategory(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown status category %q", s)
	}
	return c, nil
}

// DeliveryDetails are the fields required when a delivery is recorded.
type DeliveryDetails struct {
	Time          string `json:"time,omitempty"`
	Address       string `json:"address,omitempty"`
	PurchaseOrder string `json:"purchaseOrder,omitempty"`
	DeliveredBy   string `json:"deliveredBy,omitempty"`
}

// IsZero reports whether every delivery field is blank. A nil receiver is zero.
func (d *DeliveryDetails) IsZero() bool {
	if d == nil {
		return true
	}
	return blank(d.Time) && blank(d.Address) && blank(d.PurchaseOrder) && blank(d.DeliveredBy)
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// Missing returns the names of the empty fields, in wire order.
func (d *DeliveryDetails) Missing() []string {
	if d == nil {
		return []string{"time", "address", "purchaseOrder", "deliveredBy"}
	}
	var missing []string
	if strings.TrimSpace(d.Time) == "" {
		missing = append(missing, "time")
	}
	if strings.TrimSpace(d.Address) == "" {
		missing = append(missing, "address")
	}
	if strings.TrimSpace(d.PurchaseOrder) == "" {
		missing = append(missing, "purchaseOrder")
	}
	if strings.TrimSpace(d.DeliveredBy) == "" {
		missing = append(missing, "deliveredBy")
	}
	return missing
}

// StatusExtra is the category-specific payload stored alongside a record.
type StatusExtra struct {
	Primary   string           `json:"primary,omitempty"`
	Secondary string           `json:"secondary,omitempty"`
	Delivery  *DeliveryDetails `json:"delivery,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

// StatusUpdateRecord is one immutable entry in a project's status history.
type StatusUpdateRecord struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"entityId"`
	Category  StatusCategory `json:"category"`
	Value     string         `json:"value"`
	ActorID   string         `json:"actorId"`
	ActorName string         `json:"actorName,omitempty"`
	Extra     *StatusExtra   `json:"extra,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// StatusFilter narrows a history query. Zero fields match everything.
type StatusFilter struct {
	ProjectID string
	Category  StatusCategory
	Limit     int
}
