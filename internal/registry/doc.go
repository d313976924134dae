// Package registry mirrors the hub's floor, area, device and entity
// registries in memory.
//
// A sync pass fetches the four record sets over one short-lived realtime
// session, builds a complete Graph off to the side and publishes it with a
// single atomic pointer swap. Readers hold on to the *Graph they loaded and
// never observe a half-built version. A failed pass leaves the previous
// graph in place.
//
// After publishing, the Registry runs best-effort follow-ups that never fail
// the pass: the denormalised entity area cache, vacuum segment discovery and
// the default room seed.
//
// The naming heuristics (Normalize, ClassifyButton, RoomGroup) are pure
// functions so they can be tested against literal name lists.
package registry
