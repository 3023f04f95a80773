package profiles

// builtinProfiles models the default-pipeline note types
// (meeting/supervision/client/lecture/braindump) as ordinary Profile
// definitions rather than a parallel hardcoded-label code path, so
// profile_id lookup, priority propagation, and notification config
// work the same way for built-ins as for user-defined profiles. Each
// built-in is a single-stage "formatting" profile with
// skip_diarization=false, so the runner's default pipeline (diarize +
// merge + one LLM formatting call) still applies unchanged. They are
// not persisted to disk and CreateProfile/DeleteProfileFile never
// touch them.
func builtinProfiles() map[string]*Profile {
	mk := func(id, name, prompt string) *Profile {
		return &Profile{
			ID:              id,
			Name:            name,
			Description:     "built-in default pipeline: " + name,
			SkipDiarization: false,
			Priority:        defaultPriority,
			Stages: []Stage{{
				Name:             StageFormattingName,
				SystemMessage:    "You are a precise note-taking assistant.",
				PromptTemplate:   prompt,
				Model:            defaultModel,
				Temperature:      defaultTemperature,
				MaxTokens:        defaultMaxTokens,
				TimeoutSeconds:   defaultTimeoutSeconds,
				SaveIntermediate: true,
			}},
		}
	}
	return map[string]*Profile{
		"meeting": mk("meeting", "Meeting Notes",
			"Format the following speaker-labeled transcript into structured meeting notes "+
				"with sections for Attendees, Discussion, Decisions, and Action Items.\n\n{transcript}"),
		"supervision": mk("supervision", "Supervision Session",
			"Format the following speaker-labeled transcript into a clinical supervision summary "+
				"covering cases discussed, guidance given, and follow-up items.\n\n{transcript}"),
		"client": mk("client", "Client Session",
			"Format the following speaker-labeled transcript into a client session summary "+
				"covering presenting concerns, interventions discussed, and next steps.\n\n{transcript}"),
		"lecture": mk("lecture", "Lecture Notes",
			"Format the following speaker-labeled transcript into structured lecture notes "+
				"with headings, key definitions, and a summary.\n\n{transcript}"),
		"braindump": mk("braindump", "Braindump",
			"Lightly clean up the following speaker-labeled transcript into a readable, organized "+
				"braindump, preserving the original ideas without heavy restructuring.\n\n{transcript}"),
	}
}

// StageFormattingName is the stage_id used for the default pipeline's
// single LLM call, matching the reserved StageResult.stage_id value.
const StageFormattingName = "formatting"
