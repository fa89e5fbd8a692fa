// Package vision contains the escalation router that decides how much
// extraction work a captured page deserves, together with the core types
// shared across subsystems: tiers, fingerprints, escalation events and
// run summaries.
package vision
