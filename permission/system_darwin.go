//go:build darwin

package permission

/*
#cgo CFLAGS: -x objective-c -fobjc-arc -mmacosx-version-min=10.15
#cgo LDFLAGS: -framework AVFoundation -framework IOKit -framework ApplicationServices

#import <AVFoundation/AVFoundation.h>
#import <IOKit/hidsystem/IOHIDLib.h>
#import <ApplicationServices/ApplicationServices.h>

static int microphoneAuthorized(void) {
	AVAuthorizationStatus st = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
	// NotDetermined counts as granted so the OS prompt fires on first
	// capture instead of the daemon refusing to start.
	return st == AVAuthorizationStatusAuthorized || st == AVAuthorizationStatusNotDetermined;
}

static int inputMonitoringGranted(void) {
	IOHIDAccessType t = IOHIDCheckAccess(kIOHIDRequestTypeListenEvent);
	return t == kIOHIDAccessTypeGranted || t == kIOHIDAccessTypeUnknown;
}

static int accessibilityTrusted(void) {
	return AXIsProcessTrusted();
}
*/
import "C"

type systemChecker struct{}

// System returns a Checker backed by the macOS authorization services:
// AVFoundation for the microphone, IOHID for input monitoring, and the
// accessibility trust database for synthetic keystrokes.
func System() Checker {
	return systemChecker{}
}

func (systemChecker) Granted(c Capability) bool {
	switch c {
	case Microphone:
		return C.microphoneAuthorized() != 0
	case InputMonitoring:
		return C.inputMonitoringGranted() != 0
	case Accessibility:
		return C.accessibilityTrusted() != 0
	}
	return false
}
