package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/juju/clock/testclock"
	"github.com/volatiletech/null/v8"

	echoapi "github.com/trezcool/mahudhurio/apps/api/echo"
	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/services/events"
	inmemdb "github.com/trezcool/mahudhurio/storage/database/inmem"
	"github.com/trezcool/mahudhurio/tests"
)

var (
	// 2024-03-01 is a Friday.
	friday = time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errInvalidToken = httpErr{Error: "invalid or expired jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
)

type env struct {
	conf   *core.Config
	db     *inmemdb.DB
	hub    *events.Hub
	clock  *testclock.Clock
	logger *testutil.Logger
	app    *echoapi.Server

	admin   core.Actor
	teacher core.Actor
	other   core.Actor // teaches Drums
	amani   core.Actor // student
	baraka  core.Actor // student

	piano attendance.Class
	drums attendance.Class
}

func setup(t *testing.T) *env {
	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("inmemdb.Open(): %v", err)
	}

	e := &env{
		conf:   core.NewTestConfig(),
		db:     db,
		clock:  testclock.NewClock(friday),
		logger: testutil.NewLogger(),
	}
	e.hub = events.NewHub(e.logger, nil)

	actor := func(usr inmemdb.User) core.Actor {
		return core.Actor{ID: usr.ID, Username: usr.Username, Role: usr.Role}
	}
	e.admin = actor(db.AddUser("admin", core.RoleAdmin))
	e.teacher = actor(db.AddUser("mwalimu", core.RoleTeacher))
	e.other = actor(db.AddUser("mgeni", core.RoleTeacher))

	e.piano = db.AddClass(attendance.Class{
		ID:        7,
		Name:      "Piano",
		TeacherID: null.Int64From(e.teacher.ID),
		StartTime: null.StringFrom("09:00:00"),
		Day:       null.StringFrom("Friday"),
	})
	e.drums = db.AddClass(attendance.Class{
		ID:        8,
		Name:      "Drums",
		TeacherID: null.Int64From(e.other.ID),
		StartTime: null.StringFrom("10:30:00"),
		Day:       null.StringFrom("Saturday"),
	})

	amani := db.AddStudent("Amani", false)
	baraka := db.AddStudent("Baraka", true)
	db.Enroll(e.piano.ID, amani.ID, 0)
	db.Enroll(e.piano.ID, baraka.ID, 2)
	db.Enroll(e.drums.ID, amani.ID, 0)
	e.amani = core.Actor{ID: amani.ID, Username: "amani", Role: core.RoleStudent}
	e.baraka = core.Actor{ID: baraka.ID, Username: "baraka", Role: core.RoleStudent}

	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	attendance.InitValidators(validate, translator)

	repo := inmemdb.NewAttendanceRepository(db)
	svc := attendance.NewService(repo, e.hub, e.conf, e.logger, e.clock, nil)

	e.app = echoapi.NewServer(echoapi.ServerDeps{
		Conf:          e.conf,
		Logger:        e.logger,
		AttendanceSvc: svc,
		Hub:           e.hub,
		Validate:      validate,
		Translator:    translator,
	})
	t.Cleanup(func() { _ = e.app.Close() })

	return e
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func (e *env) serve(tt httpTest) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
	e.app.ServeHTTP(rec, req)
	return rec
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func getToken(t *testing.T, conf *core.Config, actor core.Actor) string {
	claims := echoapi.NewClaims(conf, actor)
	token, err := echoapi.GenerateToken(conf, claims)
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList(): %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

// listener is an events.Subscriber collecting what the hub delivers.
type listener struct {
	mutex    sync.Mutex
	id       string
	messages []events.Message
}

func (l *listener) ID() string { return l.id }

func (l *listener) Deliver(msg events.Message) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *listener) received() []events.Message {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]events.Message(nil), l.messages...)
}
