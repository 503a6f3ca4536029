package approval

// Projection is the derived read-model of an incident's approval state.
// It is computed from the ledger on demand and never stored.
type Projection struct {
	IncidentID        int64   `json:"incident_id"`
	Cycle             int     `json:"cycle"`
	CurrentLevel      Level   `json:"current_level,omitempty"`
	NextRequiredLevel Level   `json:"next_required_level,omitempty"`
	IsFullyApproved   bool    `json:"is_fully_approved"`
	RejectedAtLevel   Level   `json:"rejected_at_level,omitempty"`
	History           []Entry `json:"history"`
}

// Project derives the projection from a chronological ledger. Only decision
// entries of the current cycle (those after the last resubmission marker)
// count toward level state; History carries every entry ever written.
func Project(incidentID int64, history []Entry) Projection {
	p := Projection{IncidentID: incidentID, Cycle: 1, History: history}
	active := map[Level]Status{}
	for _, e := range history {
		switch e.Kind {
		case KindResubmission:
			p.Cycle++
			active = map[Level]Status{}
		case KindDecision:
			active[e.Level] = e.Status
		}
	}
	approvedAll := true
	for _, l := range Levels() {
		status, ok := active[l]
		if ok && status == StatusApproved {
			p.CurrentLevel = l
			continue
		}
		approvedAll = false
		if !p.NextRequiredLevel.Valid() {
			p.NextRequiredLevel = l
		}
		if ok && status == StatusRejected && !p.RejectedAtLevel.Valid() {
			p.RejectedAtLevel = l
		}
	}
	p.IsFullyApproved = approvedAll
	return p
}

// LevelStatus reports the effective per-level status in the current cycle,
// StatusPending when no decision entry exists.
func (p Projection) LevelStatus(level Level) Status {
	markers := 0
	status := StatusPending
	for _, e := range p.History {
		if e.Kind == KindResubmission {
			markers++
			continue
		}
		if markers == p.Cycle-1 && e.Level == level {
			status = e.Status
		}
	}
	return status
}
