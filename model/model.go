/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix,
// e.g. "pi_3f0c...". Useful for ids that should reveal what they identify.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// AddressUsage tracks when an address of an organization's pool was last
// handed out, to enforce the reuse cooldown.
type AddressUsage struct {
	OrganizationID string    `json:"organization_id"`
	Asset          string    `json:"asset"`
	Address        string    `json:"address"`
	LastUsedAt     time.Time `json:"last_used_at"`
	UseCount       int       `json:"use_count"`
}

// AddressClaim is one recorded use of a pool address. PreviousUsedAt is nil
// when the claim created the usage record. It carries what is needed to undo
// the claim.
type AddressClaim struct {
	OrganizationID string
	Asset          string
	Address        string
	ClaimedAt      time.Time
	PreviousUsedAt *time.Time
}

// PaymentSettings is an organization's configuration for accepting one asset.
type PaymentSettings struct {
	OrganizationID        string    `json:"organization_id"`
	Asset                 string    `json:"asset"`
	Enabled               bool      `json:"enabled"`
	Addresses             []string  `json:"addresses"`
	CooldownSeconds       int64     `json:"cooldown_seconds"`
	StopReusing           bool      `json:"stop_reusing"`
	RequiredConfirmations int       `json:"required_confirmations"`
	TestMode              bool      `json:"test_mode"`
	IntentTTLSeconds      int64     `json:"intent_ttl_seconds"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Cooldown returns the configured cooldown, or fallback when unset.
func (s *PaymentSettings) Cooldown(fallback time.Duration) time.Duration {
	if s.CooldownSeconds <= 0 {
		return fallback
	}
	return time.Duration(s.CooldownSeconds) * time.Second
}

// LedgerTransaction is an incoming payment as seen on the ledger.
type LedgerTransaction struct {
	Hash           string          `json:"hash"`
	Destination    string          `json:"destination,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Timestamp      time.Time       `json:"timestamp"`
	DestinationTag *uint32         `json:"destination_tag,omitempty"`
	Confirmations  int             `json:"confirmations"`
	LedgerIndex    uint32          `json:"ledger_index,omitempty"`
}

// MatchesTag reports whether the transaction was addressed to the tag. An
// untagged intent accepts any transaction to its address.
func (t LedgerTransaction) MatchesTag(tag *uint32) bool {
	if tag == nil {
		return true
	}
	return t.DestinationTag != nil && *t.DestinationTag == *tag
}
