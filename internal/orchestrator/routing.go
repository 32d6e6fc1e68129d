package orchestrator

// groupNextHops computes the fan-out set for a group message (spec.md
// §4.5): the next hop toward every member other than self, deduped.
func (c *Client) groupNextHops(name string) []string {
	members := c.groups.Members(name)
	hopSet := make(map[string]struct{}, len(members))
	for _, m := range members {
		if m == c.Hostname {
			continue
		}
		if hop := c.topo.NextHop(m); hop != "" {
			hopSet[hop] = struct{}{}
		}
	}
	out := make([]string, 0, len(hopSet))
	for h := range hopSet {
		out = append(out, h)
	}
	return out
}
