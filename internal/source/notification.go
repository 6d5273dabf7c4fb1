package source

import "regexp"

// Teams invitations and booking confirmations are calendar traffic, not
// correspondence.
var notificationPatterns = compileAll(
	`Teams Meeting`,
	`Microsoft Teams`,
	`teams\.microsoft\.com`,
	`Join Microsoft Teams Meeting`,
	`Meeting Details`,
	`Calendar Event`,
	`Meeting Invitation`,
	`Teams Video Call`,
	`Teams Audio Call`,
	`Teams Conference`,
	`Teams Webinar`,

	`New booking`,
	`Updated booking`,
	`Cancell?ed:`,
	`Cancell?ed\s+`,
	`Microsoft Bookings`,
	`Bookings`,
	`Booking Confirmation`,
	`Your booking is confirmed`,
	`Appointment Confirmed`,
	`Join your appointment`,
	`Reschedule`,
	`Cancel or reschedule`,
	`Meeting Confirmation`,
	`Calendar Invitation`,
	`Event Details`,
	`Invitation to`,
	`has invited you to`,
	`One[ -]on[ -]One`,
	`Outlook Calendar`,
	`Calendar Reminder`,
	`Event Reminder`,
	`Meeting Reminder`,
	`Appointment Reminder`,
)

var (
	teamsLink   = regexp.MustCompile(`(?i)teams\.microsoft\.com`)
	joinMeeting = regexp.MustCompile(`(?i)Join.*Meeting`)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// IsNotification reports whether a message is a meeting or booking notice.
// It needs two subject hits, or a subject hit backed by a body hit, unless
// the body links a Teams meeting or the subject asks to join one.
func IsNotification(subject, body string) bool {
	subjectHits, bodyHits := 0, 0
	for _, re := range notificationPatterns {
		if re.MatchString(subject) {
			subjectHits++
		}
		if re.MatchString(body) {
			bodyHits++
		}
	}
	if subjectHits >= 2 || (subjectHits >= 1 && bodyHits >= 1) {
		return true
	}
	return teamsLink.MatchString(body) || joinMeeting.MatchString(subject)
}
