package auth

const (
	SectionDashboard   = "dashboard"
	SectionStudents    = "students"
	SectionTeachers    = "teachers"
	SectionClasses     = "classes"
	SectionModalities  = "modalities"
	SectionEnrollments = "enrollments"
	SectionUsers       = "users"
)

var allSections = []string{
	SectionDashboard,
	SectionStudents,
	SectionTeachers,
	SectionClasses,
	SectionModalities,
	SectionEnrollments,
	SectionUsers,
}

var sectionRoles = map[string][]string{
	SectionDashboard:   {RoleAdmin, RoleCoordinator, RoleTeacher, RoleAssistant},
	SectionStudents:    {RoleAdmin, RoleCoordinator, RoleTeacher, RoleAssistant},
	SectionTeachers:    {RoleAdmin, RoleCoordinator},
	SectionModalities:  {RoleAdmin, RoleCoordinator},
	SectionClasses:     {RoleAdmin, RoleCoordinator, RoleTeacher},
	SectionEnrollments: {RoleAdmin, RoleCoordinator, RoleAssistant},
	SectionUsers:       {RoleAdmin},
}

// Sections returns the menu sections visible to role, in menu order.
func Sections(role string) []string {
	out := make([]string, 0, len(allSections))
	for _, section := range allSections {
		if CanSee(role, section) {
			out = append(out, section)
		}
	}
	return out
}

func CanSee(role, section string) bool {
	for _, r := range sectionRoles[section] {
		if r == role {
			return true
		}
	}
	return false
}
