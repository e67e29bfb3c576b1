package codec

const (
	// ServiceNegativeResponse is the reserved service identifier of a negative response.
	ServiceNegativeResponse = 0x7F
	// ServiceResponseBit marks a positive response to the request with the same low bits.
	ServiceResponseBit = 0x40

	// ServiceNameNegativeResponse is the name reported for ServiceNegativeResponse.
	ServiceNameNegativeResponse = "negativeResponse"
	// ServiceNameUnknown is the name reported for identifiers missing from the table.
	ServiceNameUnknown = "unknown"
)

// Service identifiers (request form).
const (
	ServiceStartDiagnosticScan                = 0x10
	ServiceECUReset                           = 0x11
	ServiceReadFreezeFrameData                = 0x12
	ServiceReadDiagnosticTroubleCodes         = 0x13
	ServiceClearDiagnosticInformation         = 0x14
	ServiceReadStatusOfDiagnosticTroubleCodes = 0x17
	ServiceReadDiagnosticTroubleCodesByStatus = 0x18
	ServiceReadECUIdentification              = 0x1A
	ServiceStopDiagnosticSession              = 0x20
	ServiceReadDataByLocalIdentifier          = 0x21
	ServiceReadDataByCommonIdentifier         = 0x22
	ServiceReadMemoryByAddress                = 0x23
	ServiceSetDataRates                       = 0x26
	ServiceSecurityAccess                     = 0x27
	ServiceDynamicallyDefineLocalIdentifier   = 0x2C
	ServiceWriteDataByCommonIdentifier        = 0x2E
	ServiceIOControlByCommonIdentifier        = 0x2F
	ServiceIOControlByLocalIdentifier         = 0x30
	ServiceStartRoutineByLocalIdentifier      = 0x31
	ServiceStopRoutineByLocalIdentifier       = 0x32
	ServiceRequestRoutineResultsByLocalID     = 0x33
	ServiceRequestDownload                    = 0x34
	ServiceRequestUpload                      = 0x35
	ServiceTransferData                       = 0x36
	ServiceRequestTransferExit                = 0x37
	ServiceStartRoutineByAddress              = 0x38
	ServiceStopRoutineByAddress               = 0x39
	ServiceRequestRoutineResultsByAddress     = 0x3A
	ServiceWriteDataByLocalIdentifier         = 0x3B
	ServiceWriteMemoryByAddress               = 0x3D
	ServiceTesterPresent                      = 0x3E
	ServiceEscCode                            = 0x80
	ServiceStartCommunication                 = 0x81
	ServiceStopCommunication                  = 0x82
	ServiceAccessTimingParameter              = 0x83
)

// serviceNames is populated once at init and only read afterwards.
var serviceNames = map[byte]string{
	ServiceStartDiagnosticScan:                "startDiagnosticScan",
	ServiceECUReset:                           "ecuReset",
	ServiceReadFreezeFrameData:                "readFreezeFrameData",
	ServiceReadDiagnosticTroubleCodes:         "readDiagnosticTroubleCodes",
	ServiceClearDiagnosticInformation:         "clearDiagnosticInformation",
	ServiceReadStatusOfDiagnosticTroubleCodes: "readStatusOfDiagnosticTroubleCodes",
	ServiceReadDiagnosticTroubleCodesByStatus: "readDiagnosticTroubleCodesByStatus",
	ServiceReadECUIdentification:              "readEcuIdentification",
	ServiceStopDiagnosticSession:              "stopDiagnosticSession",
	ServiceReadDataByLocalIdentifier:          "readDataByLocalIdentifier",
	ServiceReadDataByCommonIdentifier:         "readDataByCommonIdentifier",
	ServiceReadMemoryByAddress:                "readMemoryByAddress",
	ServiceSetDataRates:                       "setDataRes",
	ServiceSecurityAccess:                     "securityAccess",
	ServiceDynamicallyDefineLocalIdentifier:   "dynamicallyDefineLocalIdentifier",
	ServiceWriteDataByCommonIdentifier:        "writeDataByCommonIdentifier",
	ServiceIOControlByCommonIdentifier:        "inputOutputControlByCommonIdentifier",
	ServiceIOControlByLocalIdentifier:         "inputOutputControlByLocalIdentifier",
	ServiceStartRoutineByLocalIdentifier:      "startRoutineByLocalIdentifier",
	ServiceStopRoutineByLocalIdentifier:       "stopRoutineByLocalIdentifier",
	ServiceRequestRoutineResultsByLocalID:     "requestRoutineResultsByLocalIdentifier",
	ServiceRequestDownload:                    "requestDownload",
	ServiceRequestUpload:                      "requestUpload",
	ServiceTransferData:                       "transferData",
	ServiceRequestTransferExit:                "requestTransferExit",
	ServiceStartRoutineByAddress:              "startRoutineByAddress",
	ServiceStopRoutineByAddress:               "stopRoutineByAddress",
	ServiceRequestRoutineResultsByAddress:     "requestRoutineResultsByAddress",
	ServiceWriteDataByLocalIdentifier:         "writeDataByLocalIdentifier",
	ServiceWriteMemoryByAddress:               "writeMemoryByAddress",
	ServiceTesterPresent:                      "testerPresent",
	ServiceEscCode:                            "escCode",
	ServiceStartCommunication:                 "startCommunication",
	ServiceStopCommunication:                  "stopCommunication",
	ServiceAccessTimingParameter:              "accessTimingParameter",
}

// ServiceName resolves a service identifier to its name.
// Responses resolve to the name of the request they answer.
func ServiceName(id byte) string {
	if id == ServiceNegativeResponse {
		return ServiceNameNegativeResponse
	}
	if name, ok := lookupService(id &^ ServiceResponseBit); ok {
		return name
	}
	return ServiceNameUnknown
}

// IsResponse reports whether id is a positive or negative response identifier.
func IsResponse(id byte) bool {
	return id == ServiceNegativeResponse || id&ServiceResponseBit != 0
}

func lookupService(id byte) (string, bool) {
	name, ok := serviceNames[id]
	return name, ok
}
