package store

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError reports an unknown manifest, version, or execution id.
// Carries the available versions so callers can surface them.
type NotFoundError struct {
	Kind      string // "manifest", "version", "execution"
	ID        string
	Version   string
	Available []string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	switch {
	case e.Version != "" && len(e.Available) > 0:
		return fmt.Sprintf("%s %s has no version %s (available: %s)",
			e.Kind, e.ID, e.Version, strings.Join(e.Available, ", "))
	case e.Version != "":
		return fmt.Sprintf("%s %s has no version %s", e.Kind, e.ID, e.Version)
	default:
		return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
	}
}

// ConflictError reports an attempted mutation of an immutable deployed
// version: the same (manifest, version) with different content.
type ConflictError struct {
	ManifestID   string
	Version      string
	ExistingHash string
	NewHash      string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"manifest %s v%s is already deployed with content hash %s; refusing to overwrite with %s (deploy a new version instead)",
		e.ManifestID, e.Version, e.ExistingHash, e.NewHash)
}

// InterfaceConflictError reports a re-onboarding attempt with a
// conflicting definition at an existing registry slot.
type InterfaceConflictError struct {
	Slot     string // "schema curation v2" or "component native/curation/csv_parser v1.0.0"
	Existing string
	Supplied string
}

// Error implements the error interface.
func (e *InterfaceConflictError) Error() string {
	return fmt.Sprintf("%s is already onboarded with %s; conflicting definition %s rejected",
		e.Slot, e.Existing, e.Supplied)
}

// IsNotFound returns true if err is a NotFoundError.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict returns true if err is a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsInterfaceConflict returns true if err is an InterfaceConflictError.
func IsInterfaceConflict(err error) bool {
	var c *InterfaceConflictError
	return errors.As(err, &c)
}
