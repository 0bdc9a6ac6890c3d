package types

// PermissionPolicy holds glob patterns over "category:action" strings, one
// list per decision tier. Evaluation order is deny, then ask, then allow;
// an action matching no pattern is allowed.
type PermissionPolicy struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
	Ask   []string `json:"ask,omitempty"`
}

// Extend returns a new policy with the local policy's patterns appended to
// the receiver's. Local patterns never replace global ones.
func (p *PermissionPolicy) Extend(local *PermissionPolicy) *PermissionPolicy {
	if p == nil && local == nil {
		return nil
	}
	merged := &PermissionPolicy{}
	if p != nil {
		merged.Allow = append(merged.Allow, p.Allow...)
		merged.Deny = append(merged.Deny, p.Deny...)
		merged.Ask = append(merged.Ask, p.Ask...)
	}
	if local != nil {
		merged.Allow = append(merged.Allow, local.Allow...)
		merged.Deny = append(merged.Deny, local.Deny...)
		merged.Ask = append(merged.Ask, local.Ask...)
	}
	return merged
}
