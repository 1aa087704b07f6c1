package models

// Keypoint is a single pose landmark with its detection confidence.
type Keypoint struct {
	X    float32 `json:"x"`
	Y    float32 `json:"y"`
	Conf float32 `json:"conf"`
}

// Keypoints is the fixed 17-point animal pose layout, indexed by the
// constants below.
type Keypoints []Keypoint

// NumKeypoints is the pose model's output length.
const NumKeypoints = 17

// Keypoint indices. The ordering is fixed by the pose model export and
// must not be rearranged.
const (
	KPLeftEye = iota
	KPRightEye
	KPNose
	KPNeck
	KPTailRoot
	KPLeftShoulder
	KPLeftElbow
	KPLeftFrontPaw
	KPRightShoulder
	KPRightElbow
	KPRightFrontPaw
	KPLeftHip
	KPLeftKnee
	KPLeftBackPaw
	KPRightHip
	KPRightKnee
	KPRightBackPaw
)

// KeypointNames maps indices to wire names.
var KeypointNames = [NumKeypoints]string{
	"left_eye", "right_eye", "nose", "neck", "tail_root",
	"left_shoulder", "left_elbow", "left_front_paw",
	"right_shoulder", "right_elbow", "right_front_paw",
	"left_hip", "left_knee", "left_back_paw",
	"right_hip", "right_knee", "right_back_paw",
}

// Body-part groups used by the state annotator.
var (
	KPShoulders = []int{KPLeftShoulder, KPRightShoulder}
	KPPaws      = []int{KPLeftFrontPaw, KPRightFrontPaw, KPLeftBackPaw, KPRightBackPaw}
	KPHips      = []int{KPLeftHip, KPRightHip}
	KPKnees     = []int{KPLeftKnee, KPRightKnee}

	// KPTorso drives body velocity: neck, shoulders, hips.
	KPTorso = []int{KPNeck, KPLeftShoulder, KPRightShoulder, KPLeftHip, KPRightHip}
	// KPLegs drives leg velocity: paws and knees.
	KPLegs = []int{
		KPLeftFrontPaw, KPRightFrontPaw, KPLeftBackPaw, KPRightBackPaw,
		KPLeftKnee, KPRightKnee,
	}
)

// Skeleton is the fixed edge list drawn by the overlay renderer.
var Skeleton = [][2]int{
	{KPLeftEye, KPRightEye},
	{KPLeftEye, KPNose},
	{KPRightEye, KPNose},
	{KPNose, KPNeck},
	{KPNeck, KPTailRoot},
	{KPNeck, KPLeftShoulder},
	{KPLeftShoulder, KPLeftElbow},
	{KPLeftElbow, KPLeftFrontPaw},
	{KPNeck, KPRightShoulder},
	{KPRightShoulder, KPRightElbow},
	{KPRightElbow, KPRightFrontPaw},
	{KPTailRoot, KPLeftHip},
	{KPLeftHip, KPLeftKnee},
	{KPLeftKnee, KPLeftBackPaw},
	{KPTailRoot, KPRightHip},
	{KPRightHip, KPRightKnee},
	{KPRightKnee, KPRightBackPaw},
}

// Visible reports whether the point at index i passes the confidence gate.
func (k Keypoints) Visible(i int, minConf float32) bool {
	if i < 0 || i >= len(k) {
		return false
	}
	return k[i].Conf >= minConf
}
