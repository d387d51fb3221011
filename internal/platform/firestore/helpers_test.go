package firestore

import "github.com/lionbidi/storefront/internal/platform/config"

func testFirestoreConfig() config.FirestoreConfig {
	return config.FirestoreConfig{ProjectID: "test-project"}
}
