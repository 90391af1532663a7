// Package http exposes the scheduler over a JSON API.
//
// Every route below /servers requires an `Authorization: Bearer <token>` header
// carrying an HS256 JWT whose subject is the calling user's id. The router
// exposes the following endpoints:
//   - GET /healthz: unauthenticated liveness probe running the configured checks.
//   - POST /servers, GET /servers/{id}, PATCH /servers/{id}: server creation,
//     the caller's view of a server (role, member count, current cycle) and
//     settings changes exchanging the `serverDTO` payload in server_handler.go.
//   - GET /servers/{id}/members, POST /servers/{id}/members, DELETE /servers/{id}/members:
//     list members, join and leave as the caller.
//   - PUT /servers/{id}/admins/{userID}, DELETE /servers/{id}/admins/{userID}:
//     owner only role changes.
//   - GET /servers/{id}/timetable?game=&sort=game, PUT /servers/{id}/timetable,
//     DELETE /servers/{id}/timetable: the current cycle's standalone entries and the
//     caller's own reservation, see timetable_handler.go.
//   - GET /servers/{id}/parties, POST /servers/{id}/parties, DELETE /servers/{id}/parties/{partyID},
//     POST /servers/{id}/parties/{partyID}/members, DELETE /servers/{id}/parties/{partyID}/members:
//     party listing, creation, deletion, join (or switch) and leave, see party_handler.go.
//   - GET /servers/{id}/games, POST /servers/{id}/games, DELETE /servers/{id}/games/{gameID}:
//     the default catalog plus custom games.
//   - GET /servers/{id}/stats/today, GET /servers/{id}/stats/weekly: aggregates for
//     the current cycle and the trailing seven cycles.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
