package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{
			"email index",
			&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'a@x.com' for key 'users.uniq_users_email'"},
			ErrEmailExists,
		},
		{
			"mobile index",
			&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '555' for key 'users.uniq_users_mobile'"},
			ErrMobileExists,
		},
		{
			"wrapped driver error",
			fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'a@x.com' for key 'users.uniq_users_email'"}),
			ErrEmailExists,
		},
		{
			"other mysql error",
			&mysql.MySQLError{Number: 1213, Message: "Deadlock found"},
			nil,
		},
		{
			"non-mysql error",
			errors.New("connection refused"),
			nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := duplicateKeyErr(tc.err); got != tc.want {
				t.Errorf("duplicateKeyErr = %v, want %v", got, tc.want)
			}
		})
	}
}
