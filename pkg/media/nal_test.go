package media

import "testing"

func TestContainsKeyframeDetectsIDRType(t *testing.T) {
	au := AccessUnit{NALUs: [][]byte{{0x67}, {0x65}}} // second byte's low 5 bits = 5 (IDR)
	if !containsKeyframe(au) {
		t.Fatal("expected an IDR nalu to be detected as a keyframe")
	}
}

func TestContainsKeyframeHonorsExplicitFlag(t *testing.T) {
	au := AccessUnit{Keyframe: true, NALUs: [][]byte{{0x41}}} // slice type, not IDR
	if !containsKeyframe(au) {
		t.Fatal("expected explicit Keyframe flag to short-circuit detection")
	}
}

func TestContainsKeyframeFalseForOrdinarySlice(t *testing.T) {
	au := AccessUnit{NALUs: [][]byte{{0x41}}} // type 1: non-IDR slice
	if containsKeyframe(au) {
		t.Fatal("expected a non-IDR slice to not be detected as a keyframe")
	}
}

func TestContainsKeyframeSkipsEmptyNALUs(t *testing.T) {
	au := AccessUnit{NALUs: [][]byte{{}, {0x65}}}
	if !containsKeyframe(au) {
		t.Fatal("expected the keyframe nalu after an empty entry to still be detected")
	}
}
