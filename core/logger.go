package core

// Logger is the app-wide logging contract.
// Args may carry errors, maps of extra data and at most one Actor (the user the log entry is about).
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Roles known to the attendance kernel.
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Actor is the verified identity behind a request or a connection.
type Actor struct {
	ID       int64
	Username string
	Role     string
}

func (a Actor) IsAdmin() bool   { return a.Role == RoleAdmin }
func (a Actor) IsTeacher() bool { return a.Role == RoleTeacher }
func (a Actor) IsStudent() bool { return a.Role == RoleStudent }

// SystemActor is used by background jobs and the admin CLI.
var SystemActor = Actor{Username: "system", Role: RoleAdmin}
