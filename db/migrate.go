package db

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"

	// Necessary for migrating from local files
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
)

type migrationStatus struct {
	Dirty   bool
	Version uint
}

func (d *DB) migrator() (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(d.DB.DB, &postgres.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "could not get Postgres instance")
	}

	m, err := migrate.NewWithDatabaseInstance(
		d.MigrationsPath,
		"postgres",
		driver,
	)
	if err != nil {
		return nil, errors.Wrap(err, "could not get migration instance")
	}
	return m, nil
}

// MigrationStatus returns the migrations version number and dirtyness
func (d *DB) MigrationStatus() (migrationStatus, error) {
	m, err := d.migrator()
	if err != nil {
		return migrationStatus{}, err
	}

	version, dirty, err := m.Version()
	if err == migrate.ErrNilVersion {
		return migrationStatus{}, nil
	}
	if err != nil {
		return migrationStatus{}, err
	}
	return migrationStatus{
		Dirty:   dirty,
		Version: version,
	}, nil
}

// MigrateUp migrates everything up
func (d *DB) MigrateUp() error {
	log.WithField("migrationsPath", d.MigrationsPath).Info("Migrating up")
	m, err := d.migrator()
	if err != nil {
		return err
	}

	// Migrate all the way up ...
	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			log.Info("No migrations applied")
			return nil
		}
		return fmt.Errorf("could not migrate up: %w", err)
	}

	log.Info("Succesfully migrated up")
	return nil
}

// MigrateDown migrates down the given number of steps
func (d *DB) MigrateDown(steps int) error {
	m, err := d.migrator()
	if err != nil {
		return err
	}

	return m.Steps(-steps)
}

// MigrateToVersion looks at the currently active migration version, then
// migrates either up or down to the given version
func (d *DB) MigrateToVersion(version uint) error {
	m, err := d.migrator()
	if err != nil {
		return err
	}

	return m.Migrate(version)
}

// ForceVersion sets the migration version and resets the dirty state
func (d *DB) ForceVersion(version int) error {
	m, err := d.migrator()
	if err != nil {
		return err
	}

	return m.Force(version)
}

// Drop drops the existing database
func (d *DB) Drop() error {
	m, err := d.migrator()
	if err != nil {
		return err
	}

	return m.Drop()
}

// MigrationFile is a parsed migration file name
type MigrationVersion struct {
	Version     int
	Description string
}

var migrationFileRegex = regexp.MustCompile(`^(\d+)_(.+)\.up\.(sql|pgsql)$`)

// ListVersions lists all the migration versions with their description
func (d *DB) ListVersions() []MigrationVersion {
	parts := strings.SplitN(d.MigrationsPath, ":", 2)
	if len(parts) != 2 {
		log.Errorf("couldn't extract directory from migrations path: %s", d.MigrationsPath)
		return nil
	}

	files, err := ioutil.ReadDir(parts[1])
	if err != nil {
		log.WithError(err).Error("Could not read migrations directory")
		return nil
	}

	var versions []MigrationVersion
	for _, file := range files {
		matches := migrationFileRegex.FindStringSubmatch(file.Name())
		if matches == nil {
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}
		versions = append(versions, MigrationVersion{
			Version:     version,
			Description: strings.Replace(matches[2], "_", " ", -1),
		})
	}
	return versions
}

func newMigrationFile(filePath string) error {
	if _, err := os.Create(filePath); err != nil {
		return errors.Wrap(err, "Could not create new file")
	}
	return nil
}

// CreateMigration creates a new empty migration file with correct name
func (d *DB) CreateMigration(migrationText string) error {
	migrationTime := time.Now().UTC().Format("20060102150405")

	parts := strings.SplitN(d.MigrationsPath, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("couldn't extract directory from migrations path: %s", d.MigrationsPath)
	}
	migrationsDir := parts[1]

	fileNameUp := path.Join(
		migrationsDir,
		migrationTime+"_"+strcase.ToSnake(migrationText)+".up.sql")
	if err := newMigrationFile(fileNameUp); err != nil {
		return err
	}

	fileNameDown := path.Join(
		migrationsDir,
		migrationTime+"_"+strcase.ToSnake(migrationText)+".down.sql")
	if err := newMigrationFile(fileNameDown); err != nil {
		return err
	}
	return nil
}
