package message

// Filter selects messages whose sender or recipients intersect a target
// address set. An empty target set accepts everything.
type Filter struct {
	targets           map[string]bool
	includeSender     bool
	includeRecipients bool
}

// NewFilter builds a Filter. Target addresses are compared lowercased.
func NewFilter(targets []string, includeSender, includeRecipients bool) *Filter {
	set := make(map[string]bool, len(targets))
	for _, t := range targets {
		if t != "" {
			set[t] = true
		}
	}
	return &Filter{
		targets:           set,
		includeSender:     includeSender,
		includeRecipients: includeRecipients,
	}
}

// Matches reports whether the message passes the filter.
func (f *Filter) Matches(h MinimalHeaders) bool {
	if len(f.targets) == 0 {
		return true
	}

	if f.includeSender && f.anyTarget(h.From) {
		return true
	}

	if f.includeRecipients {
		for _, value := range []string{h.To, h.Cc, h.Bcc, h.DeliveredTo, h.XOriginalTo, h.EnvelopeTo} {
			if f.anyTarget(value) {
				return true
			}
		}
	}
	return false
}

func (f *Filter) anyTarget(headerValue string) bool {
	for _, addr := range ExtractAddresses(headerValue) {
		if f.targets[addr] {
			return true
		}
	}
	return false
}
