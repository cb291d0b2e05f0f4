package wire

// Status is a response status code as carried in Header.VbucketOrStatus
// on a response frame.
type Status uint16

const (
	StatusOK                 Status = 0x00
	StatusKeyEnoent          Status = 0x01
	StatusKeyEexists         Status = 0x02
	StatusEinval             Status = 0x04
	StatusTmpfail            Status = 0x86
	StatusLocked             Status = 0x09
	StatusLockedTmpfail      Status = 0x8d
	StatusUnknownCollection  Status = 0x88
	StatusEaccess            Status = 0x24
	StatusNoBucket           Status = 0x23
	StatusAuthStale          Status = 0x1f
)

// RemapForLegacyClient downgrades status codes the client can't
// understand because it hasn't negotiated XERROR (spec.md §6 "Error
// code remapping"), and reports whether the connection must instead be
// disconnected rather than sent a response at all.
func RemapForLegacyClient(status Status, xerror, collections bool) (remapped Status, disconnect bool) {
	if xerror {
		return status, mustDisconnect(status)
	}
	switch status {
	case StatusLocked:
		return StatusKeyEexists, false
	case StatusLockedTmpfail:
		return StatusTmpfail, false
	case StatusUnknownCollection:
		if collections {
			return status, false
		}
		return StatusEinval, false
	case StatusEaccess, StatusNoBucket, StatusAuthStale:
		return status, true
	default:
		return status, false
	}
}

func mustDisconnect(status Status) bool {
	switch status {
	case StatusEaccess, StatusNoBucket, StatusAuthStale:
		return true
	default:
		return false
	}
}
