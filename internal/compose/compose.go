// Package compose turns a task's message template into the payload for one
// target, substituting personalization placeholders from the resolved
// platform identity.
package compose

import (
	"strings"

	"blastbot/internal/model"
	"blastbot/internal/platform"
)

// Compose substitutes {name}, {first_name}, {last_name}, {full_name} and
// {username} with attributes of the resolved identity. A placeholder whose
// value is empty is left untouched so templates remain readable when a
// lookup came back incomplete. {name} prefers the public handle, falling
// back to the first name.
func Compose(template string, id platform.Identity) string {
	username := ""
	if id.Handle != "" {
		username = "@" + id.Handle
	}

	fullName := id.FirstName
	if id.LastName != "" {
		if fullName != "" {
			fullName += " "
		}
		fullName += id.LastName
	}

	name := id.Handle
	if name == "" {
		name = id.FirstName
	}

	replacements := []struct {
		placeholder string
		value       string
	}{
		{"{name}", name},
		{"{first_name}", id.FirstName},
		{"{last_name}", id.LastName},
		{"{full_name}", fullName},
		{"{username}", username},
	}

	out := template
	for _, r := range replacements {
		if r.value != "" {
			out = strings.ReplaceAll(out, r.placeholder, r.value)
		}
	}
	return out
}

// Build prepares the platform message for one (task, identity) pair.
// Forward and proxy variants carry no composed text; the adapter follows
// the variant's source reference or proxy code instead.
func Build(task model.Task, id platform.Identity) platform.Message {
	msg := platform.Message{
		Variant:   task.SendVariant,
		ParseMode: task.ParseMode,
	}
	switch task.SendVariant.Kind {
	case model.VariantDirect:
		msg.Text = Compose(task.MessageTemplate, id)
	case model.VariantTemplatedProxy, model.VariantChannelForward, model.VariantChannelForwardHidden:
		// Content comes from the proxy or the referenced source message.
	}
	return msg
}
