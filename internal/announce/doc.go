// Package announce implements the CPT notification core: the eligibility
// engine (which time window, if any, an event falls into), the dedup record
// persisted between runs, and the periodic check cycle that ties fetch,
// processing, and persistence together.
package announce
