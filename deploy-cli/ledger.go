/*
 * Copyright CloudScore Org. 2018
 *
 * contact@cloudscore.org
 *
 * This software is part of the CloudScore project, an open-source machine
 * learning deployment platform.
 *
 * This software is governed by the CeCILL license, compatible with the
 * GNU GPL, under French law and abiding by the rules of distribution of
 * free software. You can  use, modify and/ or redistribute the software
 * under the terms of the CeCILL license as circulated by CEA, CNRS and
 * INRIA at the following URL "http://www.cecill.info".
 *
 * As a counterpart to the access to the source code and  rights to copy,
 * modify and redistribute granted by the license, users are provided only
 * with a limited warranty  and the software's author,  the holder of the
 * economic rights,  and the successive licensors  have only  limited
 * liability.
 *
 * In this respect, the user's attention is drawn to the risks associated
 * with loading,  using,  modifying and/or developing or reproducing the
 * software by the user in light of its specific status of free software,
 * that may mean  that it is complicated to manipulate,  and  that  also
 * therefore means  that it is reserved for developers  and  experienced
 * professionals having in-depth computer knowledge. Users are therefore
 * encouraged to load and test the software's suitability as regards their
 * requirements in conditions enabling the security of their systems and/or
 * data to be ensured and,  more generally, to use and operate it in the
 * same conditions as regards security.
 *
 * The fact that you are presently reading this means that you have had
 * knowledge of the CeCILL license and that you accept its terms.
 */

package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/fatih/structs"
	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
	uuid "github.com/satori/go.uuid"
)

// Ledger table and migration table names
const (
	DeploymentTableName = "deployment"
	migrationTable      = "cloudscore_migrations"
)

// Terminal ledger states of a deployment run
const (
	RunStateRunning   = "running"
	RunStateSucceeded = "succeeded"
	RunStateFailed    = "failed"
	RunStateTimedOut  = "timed-out"
)

var (
	// SQL statements
	insertStatement = `INSERT INTO deployment (uuid, service_name, model_name, model_version, image_name, state, diagnostic, timestamp_start, timestamp_done) VALUES (:uuid, :service_name, :model_name, :model_version, :image_name, :state, :diagnostic, :timestamp_start, :timestamp_done)`
	updateStatement = `UPDATE deployment SET state=:State, diagnostic=:Diagnostic, timestamp_done=:DoneAt WHERE uuid=:uuid`
	selectTemplate  = `SELECT * FROM deployment ORDER BY timestamp_start DESC LIMIT %d OFFSET %d`
)

// DeploymentRecord is one row of the deployment ledger: a single run of the
// sequencer, from model resolution to the post-deployment test request
type DeploymentRecord struct {
	ID           uuid.UUID `db:"uuid" json:"uuid"`
	ServiceName  string    `db:"service_name" json:"service_name"`
	ModelName    string    `db:"model_name" json:"model_name"`
	ModelVersion int       `db:"model_version" json:"model_version"`
	ImageName    string    `db:"image_name" json:"image_name"`
	State        string    `db:"state" json:"state"`
	Diagnostic   string    `db:"diagnostic" json:"diagnostic"`
	StartedAt    time.Time `db:"timestamp_start" json:"timestamp_start"`
	DoneAt       time.Time `db:"timestamp_done" json:"timestamp_done"`
}

// Ledger records deployment runs and their outcome
type Ledger interface {
	Insert(record *DeploymentRecord) error
	Update(record *DeploymentRecord) error
	List(records *[]DeploymentRecord, page, pageSize int) error
}

// SQLLedger keeps the deployment ledger in a postgreSQL database
type SQLLedger struct {
	*sqlx.DB
}

// NewSQLLedger creates a Ledger instance, bound to a given database
func NewSQLLedger(db *sqlx.DB) *SQLLedger {
	return &SQLLedger{db}
}

// Insert inserts a deployment record in base
func (l *SQLLedger) Insert(record *DeploymentRecord) error {
	if _, err := l.NamedExec(insertStatement, record); err != nil {
		return fmt.Errorf("[ledger] Error inserting deployment %s in database: %s", record.ID, err)
	}
	return nil
}

// Update changes the state and diagnostic of a deployment record in base
func (l *SQLLedger) Update(record *DeploymentRecord) error {
	recordMap := structs.Map(record)
	recordMap["uuid"] = record.ID
	recordMap["DoneAt"] = record.DoneAt
	if _, err := l.NamedExec(updateStatement, recordMap); err != nil {
		return fmt.Errorf("[ledger] Error updating deployment %s in database: %s", record.ID, err)
	}
	return nil
}

// List lists deployment records in base, pagination included
func (l *SQLLedger) List(records *[]DeploymentRecord, page, pageSize int) error {
	if err := l.Select(records, fmt.Sprintf(selectTemplate, pageSize, page*pageSize)); err != nil {
		return fmt.Errorf("[ledger] Error retrieving deployment list from database: %s", err)
	}
	return nil
}

// MockLedger is an in-memory mock of SQLLedger for tests and database-less runs
type MockLedger struct {
	sync.Mutex

	Records []DeploymentRecord
}

// NewMockLedger creates a Ledger instance mock
func NewMockLedger() *MockLedger {
	return &MockLedger{}
}

// Insert appends a deployment record to the in-memory ledger
func (l *MockLedger) Insert(record *DeploymentRecord) error {
	l.Lock()
	defer l.Unlock()

	l.Records = append(l.Records, *record)
	return nil
}

// Update changes the state and diagnostic of an in-memory deployment record
func (l *MockLedger) Update(record *DeploymentRecord) error {
	l.Lock()
	defer l.Unlock()

	for n := range l.Records {
		if uuid.Equal(l.Records[n].ID, record.ID) {
			l.Records[n] = *record
			return nil
		}
	}
	return fmt.Errorf("[mock-ledger] No deployment %s in ledger", record.ID)
}

// List returns the requested page of in-memory deployment records, most recent first
func (l *MockLedger) List(records *[]DeploymentRecord, page, pageSize int) error {
	l.Lock()
	defer l.Unlock()

	start := len(l.Records) - 1 - page*pageSize
	for n := start; n >= 0 && n > start-pageSize; n-- {
		*records = append(*records, l.Records[n])
	}
	return nil
}

// RunMigrations applies migrations in migrationDir
func RunMigrations(db *sqlx.DB, migrationDir string) (int, error) {
	migrate.SetTable(migrationTable)

	migrations := &migrate.FileMigrationSource{
		Dir: migrationDir,
	}

	return migrate.ExecMax(db.DB, "postgres", migrations, migrate.Up, 0)
}
