package main

import (
	"os"
	"path/filepath"

	"github.com/metalagman/lessonloop/internal/config"
	"github.com/metalagman/lessonloop/internal/db"
)

// openDB opens the store of the project in the working directory.
func openDB() (*db.Store, string, func(), error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, "", func() {}, err
	}
	storeDB, err := db.Open(filepath.Join(stateDir(root), db.FileName))
	if err != nil {
		return nil, "", func() {}, err
	}
	return db.NewStore(storeDB), root, func() { _ = storeDB.Close() }, nil
}

func stateDir(root string) string {
	return filepath.Join(root, config.Dir)
}
