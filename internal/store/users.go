package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// EmergencyContact is one person to notify when a monitored user falls.
type EmergencyContact struct {
	ContactID    int64  `json:"contact_id"`
	UserID       int64  `json:"user_id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	Address      string `json:"address"`
	Relationship string `json:"relationship"`
}

// Doctor is the family doctor on record for a monitored user.
type Doctor struct {
	UserID         int64  `json:"user_id"`
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	Address        string `json:"address"`
	Specialization string `json:"specialization"`
}

// User is one monitored person and their notification fan-out.
type User struct {
	UserID            int64              `json:"user_id"`
	Name              string             `json:"name"`
	Notes             string             `json:"notes"`
	ImageRef          string             `json:"image_ref"`
	EmergencyContacts []EmergencyContact `json:"emergency_contacts,omitempty"`
	FamilyDoctor      *Doctor            `json:"family_doctor,omitempty"`
}

// UserStore handles database operations for users, contacts and doctors.
type UserStore struct {
	db *DB
}

// NewUserStore creates a UserStore backed by db.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

// AddUser inserts a user and sets its UserID.
func (s *UserStore) AddUser(u *User) error {
	result, err := s.db.Exec(
		`INSERT INTO users (name, notes, image_ref) VALUES (?, ?, ?)`,
		u.Name, u.Notes, u.ImageRef,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read user id: %w", err)
	}
	u.UserID = id

	for i := range u.EmergencyContacts {
		u.EmergencyContacts[i].UserID = id
		if err := s.AddEmergencyContact(&u.EmergencyContacts[i]); err != nil {
			return err
		}
	}
	if u.FamilyDoctor != nil {
		u.FamilyDoctor.UserID = id
		if err := s.SetFamilyDoctor(u.FamilyDoctor); err != nil {
			return err
		}
	}
	return nil
}

// UpdateUser updates the user's own fields (not contacts or doctor).
func (s *UserStore) UpdateUser(u *User) error {
	result, err := s.db.Exec(
		`UPDATE users SET name = ?, notes = ?, image_ref = ? WHERE user_id = ?`,
		u.Name, u.Notes, u.ImageRef, u.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user %d: %w", u.UserID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes a user with their contacts and doctor.
func (s *UserStore) DeleteUser(userID int64) error {
	// Deletes cascade in schema, but SQLite only honours that with foreign
	// keys enabled, so delete children explicitly.
	if _, err := s.db.Exec(`DELETE FROM emergency_contacts WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete contacts for user %d: %w", userID, err)
	}
	if _, err := s.db.Exec(`DELETE FROM doctors WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete doctor for user %d: %w", userID, err)
	}
	result, err := s.db.Exec(`DELETE FROM users WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user %d: %w", userID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUser returns a user with contacts and doctor populated.
func (s *UserStore) GetUser(userID int64) (*User, error) {
	u := &User{}
	err := s.db.QueryRow(
		`SELECT user_id, name, notes, image_ref FROM users WHERE user_id = ?`, userID,
	).Scan(&u.UserID, &u.Name, &u.Notes, &u.ImageRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user %d: %w", userID, err)
	}

	contacts, err := s.EmergencyContacts(userID)
	if err != nil {
		return nil, err
	}
	u.EmergencyContacts = contacts

	doctor, err := s.FamilyDoctor(userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err == nil {
		u.FamilyDoctor = doctor
	}
	return u, nil
}

// ListUsers returns all users with their contacts and doctors.
func (s *UserStore) ListUsers() ([]*User, error) {
	rows, err := s.db.Query(`SELECT user_id, name, notes, image_ref FROM users ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.UserID, &u.Name, &u.Notes, &u.ImageRef); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	for _, u := range users {
		contacts, err := s.EmergencyContacts(u.UserID)
		if err != nil {
			return nil, err
		}
		u.EmergencyContacts = contacts
		doctor, err := s.FamilyDoctor(u.UserID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if err == nil {
			u.FamilyDoctor = doctor
		}
	}
	return users, nil
}

// AddEmergencyContact inserts a contact and sets its ContactID.
func (s *UserStore) AddEmergencyContact(c *EmergencyContact) error {
	result, err := s.db.Exec(
		`INSERT INTO emergency_contacts (user_id, name, phone, email, address, relationship)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.UserID, c.Name, c.Phone, c.Email, c.Address, c.Relationship,
	)
	if err != nil {
		return fmt.Errorf("failed to insert contact: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read contact id: %w", err)
	}
	c.ContactID = id
	return nil
}

// UpdateEmergencyContact updates a contact by its ContactID.
func (s *UserStore) UpdateEmergencyContact(c *EmergencyContact) error {
	result, err := s.db.Exec(
		`UPDATE emergency_contacts
		 SET name = ?, phone = ?, email = ?, address = ?, relationship = ?
		 WHERE contact_id = ? AND user_id = ?`,
		c.Name, c.Phone, c.Email, c.Address, c.Relationship, c.ContactID, c.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update contact %d: %w", c.ContactID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEmergencyContact removes one contact.
func (s *UserStore) DeleteEmergencyContact(userID, contactID int64) error {
	result, err := s.db.Exec(
		`DELETE FROM emergency_contacts WHERE contact_id = ? AND user_id = ?`,
		contactID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete contact %d: %w", contactID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// EmergencyContacts returns a user's contacts in insertion order.
func (s *UserStore) EmergencyContacts(userID int64) ([]EmergencyContact, error) {
	rows, err := s.db.Query(
		`SELECT contact_id, user_id, name, phone, email, address, relationship
		 FROM emergency_contacts WHERE user_id = ? ORDER BY contact_id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts for user %d: %w", userID, err)
	}
	defer rows.Close()

	contacts := []EmergencyContact{}
	for rows.Next() {
		var c EmergencyContact
		if err := rows.Scan(&c.ContactID, &c.UserID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.Relationship); err != nil {
			return nil, fmt.Errorf("failed to scan contact row: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contact rows: %w", err)
	}
	return contacts, nil
}

// SetFamilyDoctor inserts or replaces the doctor on record for a user.
func (s *UserStore) SetFamilyDoctor(d *Doctor) error {
	_, err := s.db.Exec(
		`INSERT INTO doctors (user_id, name, phone, email, address, specialization)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name, phone = excluded.phone, email = excluded.email,
			address = excluded.address, specialization = excluded.specialization`,
		d.UserID, d.Name, d.Phone, d.Email, d.Address, d.Specialization,
	)
	if err != nil {
		return fmt.Errorf("failed to set doctor for user %d: %w", d.UserID, err)
	}
	return nil
}

// FamilyDoctor returns the doctor on record for a user.
func (s *UserStore) FamilyDoctor(userID int64) (*Doctor, error) {
	d := &Doctor{}
	err := s.db.QueryRow(
		`SELECT user_id, name, phone, email, address, specialization FROM doctors WHERE user_id = ?`,
		userID,
	).Scan(&d.UserID, &d.Name, &d.Phone, &d.Email, &d.Address, &d.Specialization)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query doctor for user %d: %w", userID, err)
	}
	return d, nil
}
