// Package instagram is a minimal client for the private mobile API: login by
// password or session id, the saved-posts feed, and media downloads.
//
// Session cookies can be exported with DumpSession and restored with
// LoadSession so a later run can skip the password login. Responses that
// carry the login_required or challenge_required signature are reported as
// forbidden errors; callers treat those as a forced logout.
package instagram
