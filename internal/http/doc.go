// Package http provides HTTP handlers and middleware for the Yakssok API.
//
// Every route except GET /healthz requires an `Authorization: Bearer <jwt>`
// header whose subject is the caller's user id. The router exposes:
//   - POST /appointments, GET /appointments: create an appointment (the caller
//     joins as creator) and list the caller's appointments.
//   - POST /appointments/join: join by `{"invite_code"}`.
//   - GET /appointments/{code}, DELETE /appointments/{code}: detail with
//     participants, and delete (creator only).
//   - PUT /appointments/{code}/participation: `{"status":"JOINED"|"DECLINED"}`.
//   - PUT /appointments/{code}/availability: replace the caller's intervals.
//   - GET /appointments/{code}/optimal-times: ranked common windows. Query
//     parameters `min_duration_minutes`, `time_range_start`, `time_range_end`.
//   - POST /appointments/{code}/confirm: fix the slot and start calendar sync.
//   - GET /appointments/{code}/calendar.ics: the confirmed slot as iCalendar.
//   - GET/POST /appointments/{code}/calendar-sync: sync report, and retry with
//     `?scope=me|all`.
//   - GET /calendar/events: the caller's Google Calendar events.
//
// Errors are returned as `{"error_code","message","reauth_url"?}`. Request and
// response DTOs live alongside their handlers.
package http
