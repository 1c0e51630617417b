package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mailbot/internal/model"
)

const shallowInstructions = `You are an email assistant for a user who receives a lot of email.
%s
You may think step-by-step and show your reasoning (wrapped in <think>...</think>), but at the end you must output only a JSON object.
That JSON must have exactly these fields:
  category: one of %s
  importance: integer 1-10 (within category)
  action: short instruction, if any is likely needed from the user (e.g. 'Reply to confirm' or 'Add event to calendar' or 'Pay bill')
  summary: one- or two-sentence overview of the email plus an explanation of WHY to take the mentioned action if one is detected.
Do not output anything else. Do your best to omit sensitive information in your answer.`

const deepInstructions = `You are a final stage email assistant for a user who receives a lot of email.
%s
You may think step-by-step and show your reasoning (wrapped in <think>...</think>), but at the end you must output only a JSON object.
That JSON must have exactly these fields:
  category: one of %s
  importance: integer 1-10 (within category)
  action: short instruction, if any is likely needed from the user (e.g. 'Reply to confirm' or 'Add <event>, <datetime> to calendar' or 'Set reminder for <> at <datetime>')
  summary: one- or two-sentence overview of the email plus an explanation of WHY to take the mentioned action if one is detected.
  deep_summary: a longer explanation of the email, its context and what the user should know.
Do not output anything else. Do your best to omit sensitive information in your answer.`

const plannerInstructions = `You are an assistant that turns a single email description into either a calendar event or a reminder.
You will see one email at a time, and must respond only with a JSON object with exactly these keys:
  type:         "event" or "reminder"
  title:        short text for the entry
  datetime:     ISO8601 UTC timestamp (deadline/event-start)
  duration_min: integer minutes (only for type==event)
  description:  additional details
Try to not schedule unimportant things like 'read article' etc. If no scheduling is needed, respond with an empty JSON: {}`

const profileInstructions = `You are a contact-profiling assistant.
Given what is already known about a contact and a new email from them, you must produce only a JSON object with exactly these fields:
  role: e.g. "colleague", "friend", etc.
  common_topics: an array of keywords discussed
  tone: "formal" or "casual"
  relationship: a phrase like "your project manager"
  notes: any other brief, useful observations
Do not output any commentary or anything outside the JSON.`

const agentInstructions = `You are an email agent acting for the user. You may use only these tools:
%s
Decide which tools, if any, should be used for the email below. Effectful tools will be confirmed with the user before they run.
Respond only with a JSON object of the form {"steps": [{"tool": "<name>", "args": {...}}]} holding at most %d steps, in order.
Finish with the final_answer tool. If nothing should be done, respond with {"steps": [{"tool": "final_answer", "args": {"answer": "no action"}}]}.`

func shallowPrompt(msg *model.Message, now time.Time) string {
	return fmt.Sprintf(`/think
Date: %q  Age: %.2f days
From: %q  To: %q
Subject: %q
Snippet: %q

When done, output only the JSON object with fields: category, importance, action, summary.`,
		formatDate(msg.Date), msg.Age(now).Hours()/24, msg.From, msg.To, msg.Subject, msg.Snippet)
}

func deepPrompt(msg *model.Message, shallow model.Analysis, sender, recipient *model.ContactProfile, now time.Time, maxBody int) string {
	return fmt.Sprintf(`/think
Date: %q  Age: %.2f days
From: %q  To: %q
Contact profile (sender) from our records:
%s

Contact profile (recipient) from our records:
%s

Subject: %q
Body: %q

You have these initial fields from the fast pass:
  category: %s
  importance: %d
  action: %s
  summary: %s

You may adjust any of those based on the full body above, but do not rename fields. After your <think>...</think> reasoning, output only the final JSON object with exactly these keys:
  category, importance, action, summary, deep_summary`,
		formatDate(msg.Date), msg.Age(now).Hours()/24, msg.From, msg.To,
		profileText(sender), profileText(recipient),
		msg.Subject, truncate(msg.Body, maxBody),
		shallow.Category, shallow.Importance, shallow.Action, shallow.Summary)
}

func plannerPrompt(index, total int, rec *model.MessageRecord, scheduled []plannedTask) string {
	soFar := "[]"
	if len(scheduled) > 0 {
		if b, err := json.MarshalIndent(scheduled, "", "  "); err == nil {
			soFar = string(b)
		}
	}
	return fmt.Sprintf(`/think
You are reviewing %d email-derived items. This is item %d/%d.

Already scheduled tasks so far:
%s

Now consider this email:
Subject: %s
Date: %s
Summary: %s
Suggested Action: %s
Category: %s
Importance (within-category): %d
Details: %s

Decide whether to schedule it. Respond only with the JSON object described by the system with fields: [type, title, datetime, duration_min, description]`,
		total, index, total, soFar,
		rec.Subject, formatDate(rec.Date), rec.Summary, rec.Action,
		rec.Category, rec.Importance, rec.DeepSummary)
}

func profilePrompt(contact *model.ContactProfile, rec *model.MessageRecord) string {
	existing := "{}"
	if contact != nil && contact.Profile != "" {
		existing = contact.Profile
	}
	return fmt.Sprintf(`Existing profile for %s:
%s

New email from this contact:
Subject: %s
Category: %s
Summary: %s
Details: %s

Update the profile with anything new and output the complete JSON object.`,
		rec.From, existing, rec.Subject, rec.Category, rec.Summary, rec.DeepSummary)
}

func agentPrompt(rec *model.MessageRecord) string {
	return fmt.Sprintf(`Email:
Message ID: %s
Account: %s
From: %s
Subject: %s
Date: %s
Category: %s
Importance: %d
Suggested action: %s
Summary: %s
Details: %s`,
		rec.ID, rec.Account, rec.From, rec.Subject, formatDate(rec.Date),
		rec.Category, rec.Importance, rec.Action, rec.Summary, rec.DeepSummary)
}

func profileText(c *model.ContactProfile) string {
	if c == nil || c.Profile == "" {
		return "None"
	}
	return c.Profile
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

func labelList(labels []string) string {
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = fmt.Sprintf("%q", l)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
