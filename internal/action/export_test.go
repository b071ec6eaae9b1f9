package action

type BusyInterval = busyInterval

var FirstFreeSlot = firstFreeSlot

var TitleWord = titleWord
