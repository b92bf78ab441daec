//go:build !bolt

package store

import (
	"github.com/inovacc/starkeep/internal/store/sqlite"
)

func openStore(path string) (Store, error) {
	return sqlite.New(path)
}
