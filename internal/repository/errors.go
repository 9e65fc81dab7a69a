package repository

import "errors"

// ErrNotFound is returned when a lookup or update of a single entity finds
// no rows. It hides driver errors such as sql.ErrNoRows and redis.Nil; the
// service layer translates it into app_errors.ErrNotFound.
var ErrNotFound = errors.New("repository: not found")
