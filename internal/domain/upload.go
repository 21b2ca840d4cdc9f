package domain

import (
	"fmt"
	"time"
)

// AssetSlot names one of the photo uploads an account must provide.
type AssetSlot string

const (
	SlotGround AssetSlot = "ground"
	SlotAerial AssetSlot = "aerial"
)

// AssetSlots lists the slots in the order grants are issued.
var AssetSlots = []AssetSlot{SlotGround, SlotAerial}

// ResourceKey returns the storage path for an account's slot. It is a pure
// function of its inputs so retried grant requests target the same object.
func ResourceKey(accountID int64, slot AssetSlot) string {
	return fmt.Sprintf("users/%d/%s_photo", accountID, slot)
}

// UploadGrant is a time-limited authorization to PUT one object.
type UploadGrant struct {
	Slot        AssetSlot `json:"slot"`
	ResourceKey string    `json:"key"`
	ContentType string    `json:"content_type"`
	SignedURL   string    `json:"url"`
	ExpiresAt   time.Time `json:"expires_at"`
}
