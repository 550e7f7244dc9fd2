package studio

import "gorm.io/gorm"

// BeforeSave hooks keep JSON columns decodable as empty collections and fill
// the defaults of fields that are never optional.

func (t *Trace) BeforeSave(*gorm.DB) error {
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	if t.Status == "" {
		t.Status = StatusOK
	}
	return nil
}

func (s *Span) BeforeSave(*gorm.DB) error {
	if s.Attributes == nil {
		s.Attributes = map[string]any{}
	}
	if s.Events == nil {
		s.Events = []SpanEvent{}
	}
	if s.Status == "" {
		s.Status = StatusOK
	}
	if s.Kind == "" {
		s.Kind = SpanKindCustom
	}
	return nil
}

func (p *PromptTemplate) BeforeSave(*gorm.DB) error {
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return nil
}

func (v *PromptVersion) BeforeSave(*gorm.DB) error {
	if v.ModelConfig == nil {
		v.ModelConfig = map[string]any{}
	}
	if v.Variables == nil {
		v.Variables = []string{}
	}
	if v.Metadata == nil {
		v.Metadata = map[string]any{}
	}
	return nil
}

func (e *EvalResult) BeforeSave(*gorm.DB) error {
	if e.Metrics == nil {
		e.Metrics = map[string]float64{}
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	if e.Status == "" {
		e.Status = EvalPending
	}
	return nil
}

func (a *AgentRegistration) BeforeSave(*gorm.DB) error {
	if a.Capabilities == nil {
		a.Capabilities = []string{}
	}
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	if a.Protocol == "" {
		a.Protocol = DefaultProtocol
	}
	if a.Version == "" {
		a.Version = DefaultAgentVersion
	}
	if a.HeartbeatIntervalS <= 0 {
		a.HeartbeatIntervalS = DefaultHeartbeatInterval
	}
	if a.Status == "" {
		a.Status = AgentHealthy
	}
	return nil
}

func (f *FeatureFlag) BeforeSave(*gorm.DB) error {
	if f.AgentID == "" {
		f.AgentID = GlobalAgentID
	}
	return nil
}

func (p *Parameter) BeforeSave(*gorm.DB) error {
	if p.AgentID == "" {
		p.AgentID = GlobalAgentID
	}
	return nil
}

func (s *Session) BeforeSave(*gorm.DB) error {
	if s.UserID == "" {
		s.UserID = DefaultUserID
	}
	return nil
}

func (c *EvalCase) BeforeSave(*gorm.DB) error {
	if c.Status == "" {
		c.Status = string(EvalPending)
	}
	return nil
}
