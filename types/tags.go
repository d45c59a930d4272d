package types

// Tags represents resource tags as a structured type.
// Everything runctl cares about is an explicit field; unrecognized
// provider tags are dropped at the adapter boundary.
type Tags struct {
	// runctl management tags
	RunctlOwner      string `json:"runctl_owner,omitempty"`
	RunctlProject    string `json:"runctl_project,omitempty"`
	RunctlUser       string `json:"runctl_user,omitempty"`
	RunctlProtected  bool   `json:"runctl_protected,omitempty"`
	RunctlPersistent bool   `json:"runctl_persistent,omitempty"`
	RunctlImportant  bool   `json:"runctl_important,omitempty"`

	// Standard infrastructure tags
	Name        string `json:"name,omitempty"`
	Environment string `json:"environment,omitempty"`
	Team        string `json:"team,omitempty"`
}

// Tag keys as they appear on the provider side.
const (
	TagOwner      = "runctl:owner"
	TagProject    = "runctl:project"
	TagUser       = "runctl:user"
	TagProtected  = "runctl:protected"
	TagPersistent = "runctl:persistent"
	TagImportant  = "runctl:important"
)

// IsOwned reports whether the resource was created by runctl.
func (t Tags) IsOwned() bool {
	return t.RunctlOwner != "" || t.RunctlProject != ""
}

// IsProtected reports whether the resource is marked against deletion.
func (t Tags) IsProtected() bool {
	return t.RunctlProtected || t.RunctlImportant || t.RunctlPersistent
}

// Owner returns the owning identity, falling back to Team.
func (t Tags) Owner() string {
	if t.RunctlOwner != "" {
		return t.RunctlOwner
	}
	return t.Team
}

// IsEmpty reports whether no tags are set at all.
func (t Tags) IsEmpty() bool {
	return t == Tags{}
}

// ToMap converts structured tags to a map for provider APIs.
func (t Tags) ToMap() map[string]string {
	tags := make(map[string]string)

	if t.RunctlOwner != "" {
		tags[TagOwner] = t.RunctlOwner
	}
	if t.RunctlProject != "" {
		tags[TagProject] = t.RunctlProject
	}
	if t.RunctlUser != "" {
		tags[TagUser] = t.RunctlUser
	}
	if t.RunctlProtected {
		tags[TagProtected] = "true"
	}
	if t.RunctlPersistent {
		tags[TagPersistent] = "true"
	}
	if t.RunctlImportant {
		tags[TagImportant] = "true"
	}
	if t.Name != "" {
		tags["Name"] = t.Name
	}
	if t.Environment != "" {
		tags["Environment"] = t.Environment
	}
	if t.Team != "" {
		tags["Team"] = t.Team
	}

	return tags
}

// TagsFromMap creates structured tags from a provider tag map.
func TagsFromMap(tagMap map[string]string) Tags {
	tags := Tags{}

	if val, ok := tagMap[TagOwner]; ok {
		tags.RunctlOwner = val
	}
	if val, ok := tagMap[TagProject]; ok {
		tags.RunctlProject = val
	}
	if val, ok := tagMap[TagUser]; ok {
		tags.RunctlUser = val
	}
	if tagMap[TagProtected] == "true" {
		tags.RunctlProtected = true
	}
	if tagMap[TagPersistent] == "true" {
		tags.RunctlPersistent = true
	}
	if tagMap[TagImportant] == "true" {
		tags.RunctlImportant = true
	}
	if val, ok := tagMap["Name"]; ok {
		tags.Name = val
	}
	if val, ok := tagMap["Environment"]; ok {
		tags.Environment = val
	}
	if val, ok := tagMap["Team"]; ok {
		tags.Team = val
	}

	return tags
}
