package engine

import "fmt"

// ResultCode is the numeric verdict an advisory lock service returns for a
// single acquire or release call. Non-negative codes mean the call succeeded,
// negative codes carry the failure reason. The enumeration follows the
// convention of SQL Server's sp_getapplock; dialects for other backends map
// their outcomes onto the same codes.
type ResultCode int32

const (
	// CodeGranted means the lock was granted without waiting.
	CodeGranted ResultCode = 0
	// CodeGrantedAfterWait means the lock was granted after other holders released it.
	CodeGrantedAfterWait ResultCode = 1

	// CodeTimedOut means the call gave up before the lock became free.
	CodeTimedOut ResultCode = -1
	// CodeCanceled means the call was canceled while waiting.
	CodeCanceled ResultCode = -2
	// CodeDeadlockVictim means the backend killed this call to break a deadlock.
	CodeDeadlockVictim ResultCode = -3
	// CodeParameterError means the call itself was malformed. Retrying cannot help.
	CodeParameterError ResultCode = -999
)

// Granted reports whether the code represents a successful call.
func (c ResultCode) Granted() bool {
	return c >= 0
}

// Fatal reports whether retrying the same call is pointless.
func (c ResultCode) Fatal() bool {
	return c == CodeParameterError
}

// Retryable reports whether a later attempt may still succeed. Negative codes
// outside the enumeration count as unspecified server errors and are retried.
func (c ResultCode) Retryable() bool {
	return c < 0 && !c.Fatal()
}

func (c ResultCode) String() string {
	switch c {
	case CodeGranted:
		return "granted"
	case CodeGrantedAfterWait:
		return "granted after wait"
	case CodeTimedOut:
		return "timed out"
	case CodeCanceled:
		return "canceled"
	case CodeDeadlockVictim:
		return "deadlock victim"
	case CodeParameterError:
		return "parameter error"
	}
	if c > 0 {
		return fmt.Sprintf("granted (%d)", int32(c))
	}
	return fmt.Sprintf("unspecified server error (%d)", int32(c))
}
