package templates

import "fmt"

// RenderSlaBreachEmail generates the notification sent to a department when
// one of its issues blows past its SLA deadline and gets auto-escalated.
func RenderSlaBreachEmail(departmentName, issueID, title, deadline string) string {
	body := fmt.Sprintf(
		"Hello %s team,\n\n"+
			"Issue %s (\"%s\") has exceeded its service-level deadline of %s and has been automatically flagged as escalated.\n\n"+
			"Please review the issue and update its status. Escalated issues are visible on the public transparency dashboard until they are resolved.\n",
		departmentName, issueID, title, deadline,
	)
	return RenderGenericEmail("SLA Breach: "+issueID, body)
}
