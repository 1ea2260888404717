// Package fields resolves the dynamic GLPI search-option ids used by the
// engines and holds the static status and service-level tables.
package fields

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Role is the purpose a discovered field serves.
type Role string

const (
	RoleGroupTech    Role = "GROUP_TECH"
	RoleStatus       Role = "STATUS"
	RoleCreationDate Role = "DATE_CREATION"
)

// Well-known Ticket search-option ids.
const (
	FieldTitle        = "1"
	FieldID           = "2"
	FieldPriority     = "3"
	FieldRequester    = "4"
	FieldTechnician   = "5"
	FieldStatus       = "12"
	FieldCreationDate = "15"
	FieldLastUpdate   = "19"
	FieldDescription  = "21"
)

// roleNeedles lists, per role, the lowercase substrings that identify it in
// a search-option name (Portuguese and English installs).
var roleNeedles = []struct {
	role    Role
	needles []string
}{
	{RoleGroupTech, []string{"grupo técnico", "technician group"}},
	{RoleStatus, []string{"status"}},
	{RoleCreationDate, []string{"data de criação", "creation date", "opening date"}},
}

// FieldMap maps roles to search-option ids. A FieldMap handed out by the
// Discoverer is never modified; refreshes produce a new map.
type FieldMap map[Role]string

// Get returns the id for role, or fallback when the role was not discovered.
func (m FieldMap) Get(role Role, fallback string) string {
	if id, ok := m[role]; ok && id != "" {
		return id
	}
	return fallback
}

// Has reports whether role was discovered.
func (m FieldMap) Has(role Role) bool {
	id, ok := m[role]
	return ok && id != ""
}

// Clone returns an independent copy.
func (m FieldMap) Clone() FieldMap {
	out := make(FieldMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// FieldGroupTech is the stock "Technician group" search option.
const FieldGroupTech = "8"

// DefaultFieldMap returns the ids of a stock GLPI install, used when
// discovery cannot reach the server.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		RoleGroupTech:    FieldGroupTech,
		RoleStatus:       FieldStatus,
		RoleCreationDate: FieldCreationDate,
	}
}

// matchRole returns the role whose needle occurs in name, if any.
func matchRole(name string) (Role, bool) {
	lower := strings.ToLower(name)
	for _, rn := range roleNeedles {
		for _, needle := range rn.needles {
			if strings.Contains(lower, needle) {
				return rn.role, true
			}
		}
	}
	return "", false
}

// Ticket status codes.
const (
	StatusNew                = 1
	StatusProcessingAssigned = 2
	StatusProcessingPlanned  = 3
	StatusPending            = 4
	StatusSolved             = 5
	StatusClosed             = 6
)

// Status is one entry of the status table.
type Status struct {
	Label string
	Code  int
}

// Statuses is the ordered status table.
var Statuses = []Status{
	{"New", StatusNew},
	{"Processing (assigned)", StatusProcessingAssigned},
	{"Processing (planned)", StatusProcessingPlanned},
	{"Pending", StatusPending},
	{"Solved", StatusSolved},
	{"Closed", StatusClosed},
}

// StatusLabel returns the label of code, or "" when unknown.
func StatusLabel(code int) string {
	for _, s := range Statuses {
		if s.Code == code {
			return s.Label
		}
	}
	return ""
}

// StatusLabels returns the labels in table order.
func StatusLabels() []string {
	labels := make([]string, len(Statuses))
	for i, s := range Statuses {
		labels[i] = s.Label
	}
	return labels
}

// GenericLevel is assigned to technicians outside every level group.
const GenericLevel = "Geral"

// ServiceLevel ties a level name to its technician group.
type ServiceLevel struct {
	Name    string `json:"name" yaml:"name"`
	GroupID int    `json:"group_id" yaml:"group_id"`
}

// Level presets.
const (
	PresetTI          = "ti"
	PresetMaintenance = "maintenance"
)

// TILevels is the default IT support tiering.
var TILevels = []ServiceLevel{
	{Name: "N1", GroupID: 89},
	{Name: "N2", GroupID: 90},
	{Name: "N3", GroupID: 91},
	{Name: "N4", GroupID: 92},
}

// MaintenanceLevels is the facilities/maintenance tiering.
var MaintenanceLevels = []ServiceLevel{
	{Name: "Manutenção Geral", GroupID: 22},
	{Name: "Patrimônio", GroupID: 26},
	{Name: "Atendimento", GroupID: 2},
	{Name: "Mecanografia", GroupID: 23},
}

// LevelPreset returns a copy of the named level table.
func LevelPreset(name string) ([]ServiceLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PresetTI:
		return append([]ServiceLevel(nil), TILevels...), nil
	case PresetMaintenance:
		return append([]ServiceLevel(nil), MaintenanceLevels...), nil
	default:
		return nil, fmt.Errorf("unknown service level preset %q (want %q or %q)", name, PresetTI, PresetMaintenance)
	}
}

// LevelForGroups returns the first level whose group is among groupIDs,
// checked in membership order, or GenericLevel.
func LevelForGroups(levels []ServiceLevel, groupIDs []string) string {
	for _, g := range groupIDs {
		id, err := strconv.Atoi(strings.TrimSpace(g))
		if err != nil {
			continue
		}
		for _, l := range levels {
			if l.GroupID == id {
				return l.Name
			}
		}
	}
	return GenericLevel
}

// LevelNames returns the level names in table order.
func LevelNames(levels []ServiceLevel) []string {
	names := make([]string, len(levels))
	for i, l := range levels {
		names[i] = l.Name
	}
	return names
}

// sortedRoles returns the roles of m in a stable order for logging.
func sortedRoles(m FieldMap) []string {
	out := make([]string, 0, len(m))
	for r, id := range m {
		out = append(out, string(r)+"="+id)
	}
	sort.Strings(out)
	return out
}
