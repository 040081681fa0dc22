package core

// Principal is the authenticated identity derived from a verified token.
// It is built once per request, attached to the request context, and
// discarded when the request ends. Instances are never shared across
// requests.
type Principal struct {
	SubjectID   string
	Issuer      string
	Audience    string
	SessionID   string
	SourceIP    string
	Authorities []string
	Extra       map[string]any
}

// HasAuthority reports whether the principal carries the named authority.
func (p *Principal) HasAuthority(name string) bool {
	if p == nil {
		return false
	}
	for _, a := range p.Authorities {
		if a == name {
			return true
		}
	}
	return false
}

// ParseAuthorities accepts the two encodings token producers use for the
// authorities claim: a list of plain strings, or a list of objects each
// carrying an "authority" field. Elements of either form may be mixed.
// Anything else means a non-conforming producer, which is a configuration
// failure rather than a bad token. A nil claim yields no authorities.
//
// Duplicates are dropped; the result preserves first-seen order.
func ParseAuthorities(claim any) ([]string, error) {
	if claim == nil {
		return nil, nil
	}
	items, ok := claim.([]any)
	if !ok {
		return nil, &ConfigurationError{Reason: "invalid authority format"}
	}
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		var name string
		switch v := item.(type) {
		case string:
			name = v
		case map[string]any:
			s, ok := v["authority"].(string)
			if !ok {
				return nil, &ConfigurationError{Reason: "invalid authority format"}
			}
			name = s
		default:
			return nil, &ConfigurationError{Reason: "invalid authority format"}
		}
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out, nil
}
