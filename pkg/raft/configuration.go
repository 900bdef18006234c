package raft

import "encoding/json"

// Configuration is the cluster membership effective at some point in
// the log: a set of servers, optionally joint with a previous voter
// set for the duration of a membership change.
type Configuration struct {
	// Servers is the new (target) server set; during joint consensus
	// it is C_new, and the Configuration entry that ends the change
	// carries exactly this set with Joint cleared.
	Servers []Server

	// Joint is true while this Configuration represents C_old ∪ C_new;
	// Old then holds C_old's full server set, kept so departing
	// servers stay addressable (and their voters quorate) until the
	// change commits.
	Joint bool
	Old   []Server
}

// NewConfiguration builds a simple (non-joint) configuration.
func NewConfiguration(servers []Server) Configuration {
	return Configuration{Servers: append([]Server(nil), servers...)}
}

func (c Configuration) find(id string) (Server, bool) {
	for _, s := range c.Servers {
		if s.ID == id {
			return s, true
		}
	}
	for _, s := range c.Old {
		if s.ID == id {
			return s, true
		}
	}
	return Server{}, false
}

// IsVoter reports whether id holds RoleVoter in the configuration. The
// new server set is checked first; an id absent from it is looked up
// in the old half, so a departing voter still counts during a joint
// change.
func (c Configuration) IsVoter(id string) bool {
	s, ok := c.find(id)
	return ok && s.Role == RoleVoter
}

// IsOldVoter reports whether id was a voter in the old half of a
// joint configuration.
func (c Configuration) IsOldVoter(id string) bool {
	for _, s := range c.Old {
		if s.ID == id && s.Role == RoleVoter {
			return true
		}
	}
	return false
}

// OldVoters returns the ids of the old half's voter set during joint
// consensus.
func (c Configuration) OldVoters() []string {
	var out []string
	for _, s := range c.Old {
		if s.Role == RoleVoter {
			out = append(out, s.ID)
		}
	}
	return out
}

// Voters returns the ids of the new (current) voter set.
func (c Configuration) Voters() []string {
	var out []string
	for _, s := range c.Servers {
		if s.Role == RoleVoter {
			out = append(out, s.ID)
		}
	}
	return out
}

// VotingMembers returns every id that counts toward a quorum in
// either half during joint consensus, or just the new voters
// otherwise.
func (c Configuration) VotingMembers() []string {
	voters := c.Voters()
	if !c.Joint {
		return voters
	}
	old := c.OldVoters()
	seen := make(map[string]bool, len(voters)+len(old))
	var out []string
	for _, id := range voters {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range old {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// QuorumOf returns the strict-majority size for a voter set of n.
func QuorumOf(n int) int { return n/2 + 1 }

// HasQuorum reports whether the given set of ids that have granted
// something (a vote, a match-index threshold) constitutes a quorum of
// this configuration, of both halves if joint.
func (c Configuration) HasQuorum(granted map[string]bool) bool {
	newVoters := c.Voters()
	if len(newVoters) == 0 {
		return false
	}
	if !hasQuorumOf(newVoters, granted) {
		return false
	}
	if c.Joint {
		old := c.OldVoters()
		if len(old) == 0 {
			return true
		}
		return hasQuorumOf(old, granted)
	}
	return true
}

func hasQuorumOf(voters []string, granted map[string]bool) bool {
	count := 0
	for _, id := range voters {
		if granted[id] {
			count++
		}
	}
	return count >= QuorumOf(len(voters))
}

// wireServer and wireConfiguration are the JSON-serializable shadow of
// Server/Configuration used only for CONFIGURATION entry payloads.
type wireServer struct {
	ID      string     `json:"id"`
	Address string     `json:"address"`
	Role    ServerRole `json:"role"`
}

type wireConfiguration struct {
	Servers []wireServer `json:"servers"`
	Joint   bool         `json:"joint,omitempty"`
	Old     []wireServer `json:"old,omitempty"`
}

// EncodeConfiguration turns a Configuration into the payload of a
// CONFIGURATION log entry.
func EncodeConfiguration(c Configuration) []byte {
	w := wireConfiguration{Joint: c.Joint}
	for _, s := range c.Servers {
		w.Servers = append(w.Servers, wireServer{ID: s.ID, Address: s.Address, Role: s.Role})
	}
	for _, s := range c.Old {
		w.Old = append(w.Old, wireServer{ID: s.ID, Address: s.Address, Role: s.Role})
	}
	b, err := json.Marshal(w)
	if err != nil {
		panic("raft: EncodeConfiguration: " + err.Error())
	}
	return b
}

// DecodeConfiguration parses the payload of a CONFIGURATION log entry.
func DecodeConfiguration(payload []byte) (Configuration, error) {
	var w wireConfiguration
	if err := json.Unmarshal(payload, &w); err != nil {
		return Configuration{}, err
	}
	c := Configuration{Joint: w.Joint}
	for _, s := range w.Servers {
		c.Servers = append(c.Servers, Server{ID: s.ID, Address: s.Address, Role: s.Role})
	}
	for _, s := range w.Old {
		c.Old = append(c.Old, Server{ID: s.ID, Address: s.Address, Role: s.Role})
	}
	return c, nil
}
