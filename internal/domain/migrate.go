package domain

import "strconv"

// migrationStep is one ordered transformation applied to a raw record map at
// load time. Steps run exactly once per load, producing the canonical schema
// before decoding; no business logic ever branches on legacy keys.
type migrationStep struct {
	name  string
	apply func(raw map[string]any) bool
}

// migrationSteps are applied in order. Append only; never reorder.
var migrationSteps = []migrationStep{
	{
		name:  "rename has_children_voice",
		apply: renameKey("has_children_voice", "containing_children_voice"),
	},
	{
		name:  "rename confidence",
		apply: renameKey("confidence", "voice_analysis_confidence"),
	},
	{
		name: "coerce confidence to float",
		apply: func(raw map[string]any) bool {
			s, ok := raw["voice_analysis_confidence"].(string)
			if !ok {
				return false
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				delete(raw, "voice_analysis_confidence")
				return true
			}
			raw["voice_analysis_confidence"] = f
			return true
		},
	},
	{
		name: "derive status from downloaded flag",
		apply: func(raw map[string]any) bool {
			if _, exists := raw["status"]; exists {
				return false
			}
			downloaded, ok := raw["downloaded"].(bool)
			if !ok {
				return false
			}
			if downloaded {
				raw["status"] = StatusSuccess
			} else {
				raw["status"] = StatusPending
			}
			delete(raw, "downloaded")
			return true
		},
	},
	{
		name: "coerce duration to float",
		apply: func(raw map[string]any) bool {
			s, ok := raw["duration_seconds"].(string)
			if !ok {
				return false
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				raw["duration_seconds"] = 0.0
				return true
			}
			raw["duration_seconds"] = f
			return true
		},
	},
}

// MigrateRawRecord applies all migration steps to a raw record map and
// returns the names of the steps that changed it.
func MigrateRawRecord(raw map[string]any) []string {
	var applied []string
	for _, step := range migrationSteps {
		if step.apply(raw) {
			applied = append(applied, step.name)
		}
	}
	return applied
}

func renameKey(from, to string) func(map[string]any) bool {
	return func(raw map[string]any) bool {
		v, exists := raw[from]
		if !exists {
			return false
		}
		if _, taken := raw[to]; !taken {
			raw[to] = v
		}
		delete(raw, from)
		return true
	}
}
