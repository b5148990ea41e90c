package migration

import "fmt"

func errMissingTable(name string) error {
	return fmt.Errorf("verify: expected table %q to exist", name)
}
