/*
Package contract models auxiliary work contracts and computes contractual
hours over arbitrary date ranges.

PURPOSE:
  A Contract belongs to one auxiliary (and, for customer-mandated
  contracts, one customer). It holds an ordered sequence of versions, each
  with a weekly-hours figure. Draft pay compares hours actually worked
  against the contractual hours owed for the pay period.

VERSION CONTIGUITY INVARIANT:
  Versions are contiguous in time: appending a version stamps the previous
  version's end date to an instant before the new start. Only the last
  version may be open-ended. Ending a contract stamps the end date on the
  contract and its last version together.

SEE ALSO:
  - hours.go: business-day prorated contract-hours calculator
  - schedule/engine.go: the event cascade triggered by ending a contract
*/
package contract

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/care-engine/core"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrAlreadyEnded is returned when ending a contract that has an end date.
	ErrAlreadyEnded = errors.New("contract already ended")

	// ErrUnorderedVersion is returned when a new version does not start after
	// the current last version.
	ErrUnorderedVersion = errors.New("version must start after the previous version")

	// ErrNoVersions is returned for operations requiring at least one version.
	ErrNoVersions = errors.New("contract has no versions")
)

// =============================================================================
// CONTRACT
// =============================================================================

// Contract is an auxiliary's work contract with contiguous versions.
type Contract struct {
	ID          string
	CompanyID   string
	AuxiliaryID string
	CustomerID  string // set only for customer-mandated contracts
	StartDate   time.Time
	EndDate     *time.Time
	Versions    []Version
}

// Version is the contract state from StartDate until EndDate (nil = active).
type Version struct {
	ID              string
	StartDate       time.Time
	EndDate         *time.Time
	WeeklyHours     decimal.Decimal
	GrossHourlyRate decimal.Decimal
}

// Active reports whether the contract is open at the given date.
func (c Contract) Active(at time.Time) bool {
	if at.Before(c.StartDate) {
		return false
	}
	return c.EndDate == nil || at.Before(*c.EndDate)
}

// VersionAt resolves the version effective at the given date.
func (c Contract) VersionAt(at time.Time) (Version, error) {
	v, ok := core.MatchingVersion(c.Versions, at, func(v Version) time.Time { return v.StartDate })
	if !ok {
		return Version{}, fmt.Errorf("contract %s at %s: %w", c.ID, at.Format(time.RFC3339), core.ErrNoMatchingVersion)
	}
	return v, nil
}

// AppendVersion adds a new version and closes the previous one an instant
// before the new start, preserving contiguity. Only the last version may be
// open-ended.
func (c *Contract) AppendVersion(v Version) error {
	if c.EndDate != nil {
		return ErrAlreadyEnded
	}
	if len(c.Versions) > 0 {
		last := &c.Versions[len(c.Versions)-1]
		if !v.StartDate.After(last.StartDate) {
			return ErrUnorderedVersion
		}
		end := v.StartDate.Add(-time.Second)
		last.EndDate = &end
	}
	c.Versions = append(c.Versions, v)
	return nil
}

// End stamps the end date on the contract and its last version together.
func (c *Contract) End(at time.Time) error {
	if c.EndDate != nil {
		return ErrAlreadyEnded
	}
	if len(c.Versions) == 0 {
		return ErrNoVersions
	}
	end := at
	c.EndDate = &end
	c.Versions[len(c.Versions)-1].EndDate = &end
	return nil
}
