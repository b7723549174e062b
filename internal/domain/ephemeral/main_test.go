package ephemeral_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain проверяет, что задачи пробуждения и вспомогательные горутины не
// утекают после завершения тестов пакета.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
