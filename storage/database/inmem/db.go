package inmemdb

import (
	"sync"

	"github.com/trezcool/mahudhurio/core/attendance"
)

type (
	DB struct {
		mutex sync.RWMutex

		users      map[int64]*User
		students   map[int64]*Student
		classes    map[int64]*attendance.Class
		enrolments map[int64][]Enrolment // by class ID
		attendance *attendanceTable

		// write fault injection, see FailWritesAfter
		failAfter int
		failErr   error
	}

	attendanceTable struct {
		pk    int64
		table map[int64]*attendance.Record
	}

	User struct {
		ID       int64
		Username string
		Role     string
	}

	Student struct {
		ID      int64
		Name    string
		IsTrial bool
	}

	Enrolment struct {
		StudentID  int64
		TrialCount int
		IsTrial    bool
	}
)

func Open() (*DB, error) {
	db := &DB{
		users:      make(map[int64]*User),
		students:   make(map[int64]*Student),
		classes:    make(map[int64]*attendance.Class),
		enrolments: make(map[int64][]Enrolment),
		attendance: &attendanceTable{table: make(map[int64]*attendance.Record)},
		failAfter:  -1,
	}
	return db, nil
}

func (db *DB) AddUser(username, role string) User {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	usr := User{ID: int64(len(db.users) + 1), Username: username, Role: role}
	db.users[usr.ID] = &usr
	return usr
}

func (db *DB) AddStudent(name string, isTrial bool) Student {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	st := Student{ID: int64(len(db.students) + 1), Name: name, IsTrial: isTrial}
	db.students[st.ID] = &st
	return st
}

// AddClass stores cls. A zero ID is assigned the next free one.
func (db *DB) AddClass(cls attendance.Class) attendance.Class {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	if cls.ID == 0 {
		cls.ID = int64(len(db.classes) + 1)
		for db.classes[cls.ID] != nil {
			cls.ID++
		}
	}
	db.classes[cls.ID] = &cls
	return cls
}

func (db *DB) Enroll(classID, studentID int64, trialCount int) {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	isTrial := false
	if st, ok := db.students[studentID]; ok {
		isTrial = st.IsTrial
	}
	db.enrolments[classID] = append(db.enrolments[classID], Enrolment{
		StudentID:  studentID,
		TrialCount: trialCount,
		IsTrial:    isTrial,
	})
}

// FailWritesAfter makes every write of a transaction fail with err once n writes succeeded in it.
// A negative n disables the fault.
func (db *DB) FailWritesAfter(n int, err error) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.failAfter = n
	db.failErr = err
}

func (db *DB) Close() error {
	return nil
}
