package zone

import "errors"

var (
	// ErrOutOfZone returned when a record's owner is not under the zone origin.
	ErrOutOfZone = errors.New("owner out of zone")
	// ErrSerialNotAdvancing returned when an update's SOA serial does not
	// strictly increase over the base contents.
	ErrSerialNotAdvancing = errors.New("SOA serial not advancing")
	// ErrConstraintViolation returned when an update would leave the zone
	// without required records, like the apex SOA.
	ErrConstraintViolation = errors.New("zone constraint violation")
	// ErrNoSOA returned when contents are built without an apex SOA.
	ErrNoSOA = errors.New("zone has no SOA at apex")
	// ErrNotAdjusted returned when a contents is published before adjusting.
	ErrNotAdjusted = errors.New("zone contents not adjusted")
	// ErrInvariant returned when a post-adjust invariant does not hold. A
	// contents failing this check must be quarantined, never served.
	ErrInvariant = errors.New("zone invariant violation")
)
