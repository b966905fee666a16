package callsite

import "testing"

func TestCopyIsIndependentOfOriginal(t *testing.T) {
	cs := &Callsite{
		ArgFlags:     []Flag{FlagObj, FlagStr | FlagNamed},
		NumPos:       1,
		ArgCount:     2,
		ArgNames:     []string{"named"},
		WithInvocant: &Callsite{ArgFlags: []Flag{FlagObj}, NumPos: 1, ArgCount: 1},
	}

	cp := cs.Copy()

	if cp == cs || &cp.ArgFlags[0] == &cs.ArgFlags[0] {
		t.Fatalf("Copy shares backing storage with the original")
	}
	if cp.WithInvocant == cs.WithInvocant {
		t.Fatalf("Copy shares WithInvocant with the original")
	}

	cs.Destroy()

	if cp.ArgFlags == nil || cp.ArgNames == nil || cp.WithInvocant == nil {
		t.Fatalf("destroying the original mutated the copy: %+v", cp)
	}
	if len(cp.ArgFlags) != 2 || cp.ArgNames[0] != "named" {
		t.Fatalf("copy corrupted after destroying original: %+v", cp)
	}
}

func TestDestroyRecursesIntoWithInvocant(t *testing.T) {
	child := &Callsite{ArgFlags: []Flag{FlagObj}, NumPos: 1, ArgCount: 1}
	parent := &Callsite{ArgFlags: []Flag{FlagObj, FlagObj}, NumPos: 2, ArgCount: 2, WithInvocant: child}

	parent.Destroy()

	if child.ArgFlags != nil || parent.WithInvocant != nil {
		t.Fatalf("Destroy did not recurse into WithInvocant")
	}
}

func TestGetCommonReturnsStablePointers(t *testing.T) {
	a := GetCommon(IDObjObj)
	b := GetCommon(IDObjObj)
	if a != b {
		t.Fatalf("GetCommon returned different pointers for the same id")
	}
	if !IsCommon(a) {
		t.Fatalf("IsCommon false for a common descriptor")
	}
	fresh := &Callsite{ArgFlags: []Flag{FlagObj, FlagObj}, NumPos: 2, ArgCount: 2}
	if IsCommon(fresh) {
		t.Fatalf("IsCommon true for a freshly constructed look-alike descriptor")
	}
}
