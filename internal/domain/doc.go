// Package domain models amateur radio license data as it is consumed by the
// neighbor search and the geocoding pipeline.
//
// # Data Source
//
// Stations and addresses come from the periodic bulk import of the FCC ULS
// amateur license database. The import is owned elsewhere; this module only
// reads those rows and updates their geocoding fields.
//
// # Record Relationships
//
//	Station  -> Address  (many stations may share one address: families, club calls)
//	Address  -> Location (many addresses may resolve to one point: apartment buildings)
//
// A Location is a unique geocoded point. Addresses reference it once they have
// been geocoded successfully.
//
// # Address Hash
//
// Every address carries a 40 character hex hash of its normalized street,
// city, state and postal code (see [HashAddress]). Geocoding work is done once
// per unique hash; other rows with the same hash receive a copy of the result.
//
// # Geocode Status
//
//	Pending  (0)  imported, not yet sent to a provider
//	Success  (1)  geocoded with an accepted accuracy tier
//	NotFound (2)  provider returned nothing usable
//	POBox    (3)  street line is only a post office box, never geocoded
//
// The numeric values are stored as-is and must not be renumbered.
//
// # PO Boxes
//
// Street lines such as "123 Main St, PO Box 100" are geocoded as
// "123 Main St" (see [StripPOBox]). Lines that consist of nothing but a box
// ("PO Box 100") are classified as POBox before any batch selects them.
package domain
