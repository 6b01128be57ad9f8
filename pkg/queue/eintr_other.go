//go:build !unix

package queue

func isEINTR(error) bool {
	return false
}
